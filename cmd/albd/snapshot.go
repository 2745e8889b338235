package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rhollis/albd/pkg/core"
)

type snapshotPayload struct {
	Collections []core.Collection `json:"collections"`
}

// writeSnapshot serializes the flat collection list in depth-first order so
// the audit diff stays stable across rebuilds.
func writeSnapshot(profileDir string, tree *core.Tree) error {
	path := filepath.Join(profileDir, "snapshot.json")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshotPayload{Collections: tree.Collections()})
}
