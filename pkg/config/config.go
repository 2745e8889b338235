// Package config loads and writes the per-profile TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// IPCConfig defines the Unix socket settings.
type IPCConfig struct {
	SocketPath string `toml:"socketPath"`
}

// StorageConfig defines SQLite options.
type StorageConfig struct {
	DBPath string `toml:"dbPath"`
}

// JobsConfig tunes the job engine.
type JobsConfig struct {
	// BatchSize bounds how many items a cascading job processes between
	// yield points. Zero means the engine default.
	BatchSize int `toml:"batchSize"`
}

// VCSRemote holds the optional Git remote for the snapshot audit trail.
type VCSRemote struct {
	URL string `toml:"url"`
}

// VCSConfig defines the snapshot audit trail options.
type VCSConfig struct {
	Enabled bool      `toml:"enabled"`
	Branch  string    `toml:"branch"`
	Remote  VCSRemote `toml:"remote"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
	FileBackups int    `toml:"fileMaxBackups"`
}

// ProfileConfig aggregates daemon configuration for one profile.
type ProfileConfig struct {
	ProfileName string        `toml:"profileName"`
	UserID      int64         `toml:"userId"`
	Storage     StorageConfig `toml:"storage"`
	IPC         IPCConfig     `toml:"ipc"`
	Jobs        JobsConfig    `toml:"jobs"`
	VCS         VCSConfig     `toml:"vcs"`
	Logging     LoggingConfig `toml:"logging"`
}

// DefaultProfile returns a config rooted in dir with sensible defaults.
func DefaultProfile(name, dir string) *ProfileConfig {
	return &ProfileConfig{
		ProfileName: name,
		UserID:      1,
		Storage:     StorageConfig{DBPath: filepath.Join(dir, "albums.db")},
		IPC:         IPCConfig{SocketPath: filepath.Join(dir, "ipc.sock")},
		Jobs:        JobsConfig{BatchSize: 50},
		VCS:         VCSConfig{Enabled: false, Branch: "main"},
		Logging:     LoggingConfig{Level: "info"},
	}
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *ProfileConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.UserID == 0 {
		return fmt.Errorf("userId required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath required")
	}
	if cfg.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socketPath required")
	}
	if cfg.Jobs.BatchSize < 0 {
		return fmt.Errorf("jobs.batchSize must not be negative")
	}
	if cfg.VCS.Branch == "" {
		cfg.VCS.Branch = "main"
	}
	return nil
}
