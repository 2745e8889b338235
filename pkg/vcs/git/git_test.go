package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCommitAndCleanWorktree(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := Open(dir, "main", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	snapshot := filepath.Join(dir, "snapshot.json")
	if err := os.WriteFile(snapshot, []byte(`{"roots":[]}`), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	status, err := repo.Commit(ctx, "initial snapshot", []string{snapshot})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !status.Committed || status.Hash == "" {
		t.Fatalf("expected a commit, got %+v", status)
	}

	status, err = repo.Commit(ctx, "no changes", []string{snapshot})
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if status.Committed {
		t.Fatalf("clean worktree must not produce a commit, got %+v", status)
	}

	reopened, err := Open(dir, "main", "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	head, err := reopened.repo.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if got := head.Name().Short(); got != "main" {
		t.Fatalf("head on branch %q, want main", got)
	}
}
