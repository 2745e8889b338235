package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rhollis/albd/pkg/config"
	"github.com/rhollis/albd/pkg/core"
	"github.com/rhollis/albd/pkg/ipc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		initProfile(args)
		return
	case "version":
		fmt.Println("albctl CLI")
		return
	case "ping":
		err = pingCommand(args)
	case "tree":
		err = treeCommand(args)
	case "crumbs":
		err = crumbsCommand(args)
	case "search":
		err = searchCommand(args)
	case "create":
		err = createCommand(args)
	case "move":
		err = moveCommand(args)
	case "share", "unshare", "hide", "archive", "delete":
		err = enqueueCommand(cmd, args)
	case "jobs":
		err = jobsCommand(args)
	case "cancel":
		err = jobActionCommand("cancel_job", args)
	case "rollback":
		err = jobActionCommand("rollback_job", args)
	case "clear":
		err = jobActionCommand("clear_job", args)
	case "watch":
		err = watchCommand(args)
	case "sync":
		err = syncCommand(args)
	case "diag":
		err = diagCommand(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s error: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: albctl <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init      Initialize a local profile (writes config.toml)")
	fmt.Println("  ping      Call the daemon ping endpoint via IPC")
	fmt.Println("  tree      Print the current collection tree")
	fmt.Println("  crumbs    Print the breadcrumb path for a collection")
	fmt.Println("  search    Substring search over collection names")
	fmt.Println("  create    Create a top-level album")
	fmt.Println("  move      Move a collection under a new parent (synchronous)")
	fmt.Println("  share     Enqueue a subtree share job")
	fmt.Println("  unshare   Enqueue a subtree unshare job")
	fmt.Println("  hide      Enqueue a cascade hide job")
	fmt.Println("  archive   Enqueue a cascade archive job")
	fmt.Println("  delete    Enqueue a subtree delete job")
	fmt.Println("  jobs      List jobs (--all includes finished ones)")
	fmt.Println("  cancel    Cancel a pending or running job")
	fmt.Println("  rollback  Roll back a completed reversible job")
	fmt.Println("  clear     Remove a finished job from the ledger")
	fmt.Println("  watch     Stream job_update and tree_changed events")
	fmt.Println("  sync push|pull   Push or pull the snapshot audit repo")
	fmt.Println("  diag      Print profile configuration paths")
	fmt.Println("  version   Print CLI version")
}

func initProfile(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	profilePath := fs.String("profile", "./_dev_profile", "Profile directory")
	name := fs.String("name", "dev", "Profile name")
	userID := fs.Int64("user", 1, "Owner user id")
	force := fs.Bool("force", false, "Overwrite existing config if present")
	_ = fs.Parse(args)
	if err := os.MkdirAll(*profilePath, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "init error: %v\n", err)
		os.Exit(1)
	}
	configPath := filepath.Join(*profilePath, "config.toml")
	if _, err := os.Stat(configPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "config already exists at %s (use --force to overwrite)\n", configPath)
		os.Exit(1)
	}
	cfg := config.DefaultProfile(*name, *profilePath)
	cfg.UserID = *userID
	if err := config.Save(configPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("initialized profile %s at %s\n", cfg.ProfileName, *profilePath)
}

func pingCommand(args []string) error {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	_ = fs.Parse(args)

	resp, err := rpcCall(*profile, *socket, "ping", nil)
	if err != nil {
		return err
	}
	var data struct {
		Now int64 `json:"now"`
	}
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	fmt.Printf("daemon responded: now=%d\n", data.Now)
	return nil
}

type treeNode struct {
	Collection core.Collection `json:"collection"`
	Depth      int             `json:"depth"`
	Children   []*treeNode     `json:"children"`
}

func treeCommand(args []string) error {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	asJSON := fs.Bool("json", false, "Print raw JSON instead of indented text")
	_ = fs.Parse(args)

	resp, err := rpcCall(*profile, *socket, "get_tree", json.RawMessage(`{}`))
	if err != nil {
		return err
	}
	if *asJSON {
		out, err := json.MarshalIndent(resp.Result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	var payload struct {
		Roots []*treeNode `json:"roots"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(resp.Result, &payload); err != nil {
		return fmt.Errorf("decode tree: %w", err)
	}
	for _, root := range payload.Roots {
		printNode(root)
	}
	fmt.Printf("%d collections\n", payload.Count)
	return nil
}

func printNode(n *treeNode) {
	marker := ""
	if n.Collection.IsShared() {
		marker = " *shared"
	}
	switch n.Collection.Visibility {
	case core.VisibilityArchived:
		marker += " [archived]"
	case core.VisibilityHidden:
		marker += " [hidden]"
	}
	fmt.Printf("%s%s (%d)%s\n", strings.Repeat("  ", n.Depth), n.Collection.Name, n.Collection.ID, marker)
	for _, child := range n.Children {
		printNode(child)
	}
}

func crumbsCommand(args []string) error {
	fs := flag.NewFlagSet("crumbs", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	id := fs.Int64("id", 0, "Collection id")
	_ = fs.Parse(args)
	if *id == 0 {
		return fmt.Errorf("--id is required")
	}

	resp, err := rpcCall(*profile, *socket, "breadcrumbs", mustJSON(map[string]any{"id": *id}))
	if err != nil {
		return err
	}
	var data struct {
		Breadcrumbs []string `json:"breadcrumbs"`
	}
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	fmt.Println(strings.Join(data.Breadcrumbs, " / "))
	return nil
}

func searchCommand(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	query := fs.String("query", "", "Search query (substring)")
	limit := fs.Int("limit", 50, "Maximum results (1-500)")
	_ = fs.Parse(args)

	resp, err := rpcCall(*profile, *socket, "search", mustJSON(map[string]any{
		"query": *query,
		"limit": *limit,
	}))
	if err != nil {
		return err
	}
	var data struct {
		Matches []struct {
			ID          int64    `json:"id"`
			Name        string   `json:"name"`
			Breadcrumbs []string `json:"breadcrumbs"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	for _, m := range data.Matches {
		fmt.Printf("%d\t%s\n", m.ID, strings.Join(m.Breadcrumbs, " / "))
	}
	return nil
}

func createCommand(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	name := fs.String("name", "", "Album name")
	_ = fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	resp, err := rpcCall(*profile, *socket, "create_album", mustJSON(map[string]any{"name": *name}))
	if err != nil {
		return err
	}
	var data struct {
		Collection core.Collection `json:"collection"`
	}
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	fmt.Printf("created album %q with id %d\n", data.Collection.Name, data.Collection.ID)
	return nil
}

func moveCommand(args []string) error {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	id := fs.Int64("id", 0, "Collection id to move")
	parent := fs.Int64("parent", 0, "New parent id (0 for top level)")
	_ = fs.Parse(args)
	if *id == 0 {
		return fmt.Errorf("--id is required")
	}

	resp, err := rpcCall(*profile, *socket, "move_collection", mustJSON(map[string]any{
		"id":          *id,
		"newParentId": *parent,
	}))
	if err != nil {
		return err
	}
	var data struct {
		Warning string `json:"warning"`
	}
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	fmt.Printf("moved %d under %d\n", *id, *parent)
	if data.Warning != "" {
		fmt.Printf("warning: %s\n", data.Warning)
	}
	return nil
}

// enqueueCommand maps the share/unshare/hide/archive/delete subcommands onto
// the daemon's job queue.
func enqueueCommand(cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	target := fs.Int64("id", 0, "Target collection id")
	email := fs.String("email", "", "Sharee email (share/unshare)")
	publicKey := fs.String("key", "", "Sharee public key (share)")
	role := fs.String("role", "viewer", "Sharee role: viewer or collaborator (share)")
	keepPhotos := fs.Bool("keep-photos", false, "Keep photos in the library (delete)")
	_ = fs.Parse(args)
	if *target == 0 {
		return fmt.Errorf("--id is required")
	}

	params := map[string]any{"target": *target}
	switch cmd {
	case "share":
		params["type"] = "subtree_share"
		params["email"] = *email
		params["publicKey"] = *publicKey
		params["role"] = *role
	case "unshare":
		params["type"] = "subtree_unshare"
		params["email"] = *email
	case "hide":
		params["type"] = "cascade_hide"
	case "archive":
		params["type"] = "cascade_archive"
	case "delete":
		params["type"] = "subtree_delete"
		params["keepPhotos"] = *keepPhotos
	}

	resp, err := rpcCall(*profile, *socket, "enqueue_job", mustJSON(params))
	if err != nil {
		return err
	}
	var data struct {
		Job struct {
			ID         string  `json:"id"`
			WorkingSet []int64 `json:"workingSet"`
		} `json:"job"`
	}
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	fmt.Printf("enqueued job %s over %d collections\n", data.Job.ID, len(data.Job.WorkingSet))
	return nil
}

func jobsCommand(args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	all := fs.Bool("all", false, "Include finished jobs")
	asJSON := fs.Bool("json", false, "Print raw JSON")
	_ = fs.Parse(args)

	resp, err := rpcCall(*profile, *socket, "list_jobs", mustJSON(map[string]any{"all": *all}))
	if err != nil {
		return err
	}
	if *asJSON {
		out, err := json.MarshalIndent(resp.Result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	var data struct {
		Jobs []struct {
			ID       string `json:"id"`
			Type     string `json:"type"`
			Target   int64  `json:"target"`
			Status   string `json:"status"`
			Progress struct {
				Total     int `json:"total"`
				Succeeded int `json:"succeeded"`
				Failed    int `json:"failed"`
			} `json:"progress"`
			Error string `json:"error"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(resp.Result, &data); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if len(data.Jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, j := range data.Jobs {
		fmt.Printf("%s\t%s\ttarget=%d\t%s\t%d/%d done, %d failed", j.ID, j.Type, j.Target, j.Status,
			j.Progress.Succeeded, j.Progress.Total, j.Progress.Failed)
		if j.Error != "" {
			fmt.Printf("\t%s", j.Error)
		}
		fmt.Println()
	}
	return nil
}

func jobActionCommand(method string, args []string) error {
	fs := flag.NewFlagSet(method, flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	id := fs.String("id", "", "Job id")
	_ = fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	if _, err := rpcCall(*profile, *socket, method, mustJSON(map[string]any{"id": *id})); err != nil {
		return err
	}
	fmt.Printf("%s ok for job %s\n", method, *id)
	return nil
}

func watchCommand(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	_ = fs.Parse(args)

	socketPath, err := resolveSocketPath(*profile, *socket)
	if err != nil {
		return err
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	req := ipc.Request{
		ID:   fmt.Sprintf("cli-watch-%d", time.Now().UnixNano()),
		Type: "watch",
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := ipc.WriteFrame(conn, payload); err != nil {
		return err
	}
	fmt.Println("subscribed to job and tree events (Ctrl+C to exit)")
	for {
		frame, err := ipc.ReadFrame(conn)
		if err != nil {
			return err
		}
		fmt.Println(string(frame))
	}
}

func syncCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: albctl sync <push|pull> [options]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	socket := fs.String("socket", "", "Override socket path")
	_ = fs.Parse(args[1:])

	var method string
	switch sub {
	case "push":
		method = "sync_push"
	case "pull":
		method = "sync_pull"
	default:
		return fmt.Errorf("unknown sync subcommand %q", sub)
	}

	resp, err := rpcCall(*profile, *socket, method, json.RawMessage(`{}`))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func diagCommand(args []string) error {
	fs := flag.NewFlagSet("diag", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	_ = fs.Parse(args)
	cfg, err := config.Load(filepath.Join(*profile, "config.toml"))
	if err != nil {
		return err
	}
	fmt.Printf("Profile: %s\n", cfg.ProfileName)
	fmt.Printf("User: %d\n", cfg.UserID)
	fmt.Printf("Config: %s\n", filepath.Join(*profile, "config.toml"))
	fmt.Printf("DB Path: %s\n", cfg.Storage.DBPath)
	fmt.Printf("Socket: %s\n", cfg.IPC.SocketPath)
	if cfg.Logging.FilePath != "" {
		fmt.Printf("Log File: %s\n", cfg.Logging.FilePath)
	}
	fmt.Printf("Audit Trail: enabled=%t branch=%s\n", cfg.VCS.Enabled, cfg.VCS.Branch)
	if cfg.VCS.Remote.URL != "" {
		fmt.Printf("Remote URL: %s\n", cfg.VCS.Remote.URL)
	}
	return nil
}

func rpcCall(profile, socketOverride, method string, params json.RawMessage) (*ipc.Response, error) {
	socketPath, err := resolveSocketPath(profile, socketOverride)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	req := ipc.Request{
		ID:     fmt.Sprintf("cli-%d", time.Now().UnixNano()),
		Type:   method,
		Params: params,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := ipc.WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	respBytes, err := ipc.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp ipc.Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("daemon error: %s (%s)", resp.Error.Message, resp.Error.Code)
	}
	return &resp, nil
}

func resolveSocketPath(profile, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.Load(filepath.Join(profile, "config.toml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config not found in %s (run 'albctl init --profile %s')", profile, profile)
		}
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.IPC.SocketPath, nil
}

func mustJSON(v map[string]any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
