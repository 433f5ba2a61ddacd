// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/agentsearch/internal/logging"
)

// AgentConfig holds per-connector settings. Disabled removes the
// connector from the orchestrator. RootOverride is loaded from
// configuration but nothing reads it: scans and the watcher always use
// each connector's default data root.
type AgentConfig struct {
	RootOverride string `koanf:"root_override"`
	Disabled     bool   `koanf:"disabled"`
}

// WatchConfig tunes the orchestrator's filesystem-notification loop.
type WatchConfig struct {
	Debounce Duration `koanf:"debounce"`
}

// Config is the full, layered configuration for agentsearch.
type Config struct {
	DataDir  string                 `koanf:"data_dir"`
	DBPath   string                 `koanf:"db_path"`
	IndexDir string                 `koanf:"index_dir"`
	Agents   map[string]AgentConfig `koanf:"agents"`
	Logging  logging.Config         `koanf:"logging"`
	Watch    WatchConfig            `koanf:"watch"`
}

// NewDefaultConfig returns the configuration agentsearch runs with when
// no config file and no environment overrides are present.
func NewDefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:  dataDir,
		DBPath:   filepath.Join(dataDir, "agent_search.db"),
		IndexDir: filepath.Join(dataDir, "index"),
		Agents:   map[string]AgentConfig{},
		Logging:  *logging.NewDefaultConfig(),
		Watch: WatchConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentsearch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentsearch"
	}
	return filepath.Join(home, ".local", "share", "agentsearch")
}

// Validate checks for internally inconsistent configuration, per the
// `config` error kind in the taxonomy: these errors must fail fast,
// before any I/O against the store or index.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.IndexDir == "" {
		return fmt.Errorf("index_dir cannot be empty")
	}
	if c.DBPath == c.IndexDir {
		return fmt.Errorf("db_path and index_dir must differ: the relational store is one file, the full-text index is a directory")
	}
	if c.Watch.Debounce.Duration() < 0 {
		return fmt.Errorf("watch.debounce cannot be negative")
	}
	return c.Logging.Validate()
}

// EnsureDirs creates DataDir and IndexDir (0700) if missing.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir %s: %w", c.DataDir, err)
	}
	if err := os.MkdirAll(c.IndexDir, 0700); err != nil {
		return fmt.Errorf("creating index dir %s: %w", c.IndexDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.DBPath), 0700); err != nil {
		return fmt.Errorf("creating db dir for %s: %w", c.DBPath, err)
	}
	return nil
}
