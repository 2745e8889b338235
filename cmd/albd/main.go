package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rhollis/albd/pkg/config"
	"github.com/rhollis/albd/pkg/ipc"
	"github.com/rhollis/albd/pkg/jobs"
	"github.com/rhollis/albd/pkg/logging"
	"github.com/rhollis/albd/pkg/service"
	"github.com/rhollis/albd/pkg/storage/sqlite"
	gitvcs "github.com/rhollis/albd/pkg/vcs/git"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	logger := logging.New("albd")
	logger.Printf("starting daemon with profile %s", *profile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, logger); err != nil {
		logger.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

type daemon struct {
	store      *sqlite.Store
	trees      *service.TreeService
	engine     *jobs.Engine
	repo       *gitvcs.Repo
	pushRemote bool
	eventHub   *eventHub
	logger     *logging.Logger
	profileDir string
}

func run(ctx context.Context, profileDir, socketOverride string, logger *logging.Logger) error {
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return err
	}
	cfg, err := loadConfig(profileDir, logger)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer store.Close()
	store.SetLogger(logger)
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}

	trees := service.New(store, store, cfg.UserID)
	engine := jobs.NewEngine(store, trees, store, logger, cfg.Jobs.BatchSize)

	d := &daemon{
		store:      store,
		trees:      trees,
		engine:     engine,
		eventHub:   newEventHub(logger),
		logger:     logger,
		profileDir: profileDir,
	}
	if cfg.VCS.Enabled {
		repo, err := gitvcs.Open(profileDir, cfg.VCS.Branch, cfg.VCS.Remote.URL)
		if err != nil {
			logger.Printf("warning: snapshot repo unavailable: %v", err)
		} else {
			d.repo = repo
			d.pushRemote = cfg.VCS.Remote.URL != ""
		}
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start job engine: %w", err)
	}
	go d.forwardJobUpdates(ctx)

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = cfg.IPC.SocketPath
	}
	if err := cleanupSocket(socketPath); err != nil {
		return err
	}

	srv := ipc.NewServer(logger)
	d.registerHandlers(srv)
	if err := srv.Start(ctx, socketPath); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer func() {
		srv.Stop()
		cleanupSocket(socketPath)
	}()

	logger.Printf("daemon ready; socket at %s", socketPath)

	<-ctx.Done()
	logger.Println("shutting down")
	return nil
}

func loadConfig(profileDir string, logger *logging.Logger) (*config.ProfileConfig, error) {
	path := filepath.Join(profileDir, "config.toml")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Printf("no config at %s, using defaults", path)
	return config.DefaultProfile("dev", profileDir), nil
}

// forwardJobUpdates fans engine updates out to IPC subscribers and records a
// snapshot commit when a job reaches a terminal state.
func (d *daemon) forwardJobUpdates(ctx context.Context) {
	updates, cancel := d.engine.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			d.eventHub.broadcast(event{Kind: "job_update", Job: &update.Job})
			if update.Job.Status.Terminal() {
				d.commitSnapshot(ctx, fmt.Sprintf("job %s %s (%s)",
					update.Job.ID, update.Job.Status, update.Job.Type))
			}
		}
	}
}

// commitSnapshot writes snapshot.json and, when the audit repo is enabled,
// commits it together with the database.
func (d *daemon) commitSnapshot(ctx context.Context, message string) {
	tree, err := d.trees.GetTree(ctx, true)
	if err != nil {
		d.logger.Printf("snapshot skipped: %v", err)
		return
	}
	d.eventHub.broadcast(event{Kind: "tree_changed", At: time.Now().UnixMilli()})
	if err := writeSnapshot(d.profileDir, tree); err != nil {
		d.logger.Printf("snapshot write failed: %v", err)
		return
	}
	if d.repo == nil {
		return
	}
	files := []string{filepath.Join(d.profileDir, "snapshot.json")}
	status, err := d.repo.Commit(ctx, message, files)
	if err != nil {
		d.logger.Printf("snapshot commit failed: %v", err)
		return
	}
	if status.Committed && d.pushRemote {
		if err := d.repo.Push(ctx); err != nil {
			d.logger.Printf("snapshot push failed: %v", err)
		}
	}
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

type event struct {
	Kind string    `json:"kind"`
	Job  *jobs.Job `json:"job,omitempty"`
	At   int64     `json:"at,omitempty"`
}

func (e event) payload() (json.RawMessage, error) {
	return json.Marshal(e)
}
