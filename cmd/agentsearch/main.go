// Package main implements the agentsearch CLI: index a machine's coding
// agent history into the relational store and full-text index, then
// search it. The core here consumes only structured options; the
// terminal UI is a separate front-end this binary merely launches.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentsearch/internal/apperr"
	"github.com/fyrsmithlabs/agentsearch/internal/config"
	"github.com/fyrsmithlabs/agentsearch/internal/index"
	"github.com/fyrsmithlabs/agentsearch/internal/logging"
	"github.com/fyrsmithlabs/agentsearch/internal/orchestrator"
	"github.com/fyrsmithlabs/agentsearch/internal/store"
	"github.com/fyrsmithlabs/agentsearch/internal/workspace"

	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/aider"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/amp"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/chatgpt"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/claudecode"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/cline"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/codebuff"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/codex"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/cursor"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/gemini"
	_ "github.com/fyrsmithlabs/agentsearch/internal/connector/opencode"
)

var (
	version = "dev"

	flagDataDir string
	flagDBPath  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		emitFailure(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "agentsearch",
	Short:   "Search your coding agents' conversation history",
	Long:    `agentsearch normalizes Claude Code, Codex, ChatGPT, Gemini, and other coding agents' local session files into one searchable index.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the data directory (default: platform-specific)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "override the relational store path")
	rootCmd.AddCommand(indexCmd, searchCmd, tuiCmd)
}

// loadConfig loads configuration and applies --data-dir/--db overrides,
// the config-kind errors section 7 requires to fail fast before any I/O.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile("")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "cli.load_config", "failed to load configuration", err)
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "cli.invalid_config", "configuration is invalid", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "cli.ensure_dirs", "failed to create data directories", err)
	}
	return cfg, nil
}

// openStack opens the logger, relational store, and full-text index a
// command needs, returning a closer that releases all three.
func openStack(cfg *config.Config) (*logging.Logger, *store.Store, *index.Index, func(), error) {
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, apperr.Wrap(apperr.KindConfig, "cli.init_logger", "failed to initialize logging", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, nil, err
	}

	ix, err := index.Open(cfg.IndexDir)
	if err != nil {
		_ = st.Close()
		_ = logger.Sync()
		return nil, nil, nil, nil, err
	}

	closer := func() {
		_ = ix.Close()
		_ = st.Close()
		_ = logger.Sync()
	}
	return logger, st, ix, closer, nil
}

func newOrchestrator(cfg *config.Config, st *store.Store, ix *index.Index) *orchestrator.Orchestrator {
	var reg workspace.Registry = store.NewRegistry(st)
	metrics := orchestrator.NewMetrics(prometheus.NewRegistry())
	return orchestrator.New(st, ix, reg, metrics, cfg.Agents)
}

// emitFailure writes the --robot-style JSON error envelope to stderr.
// Used for every command failure, robot flag or not, since a non-zero
// exit with a parseable envelope is strictly more useful than one
// without, and the spec only distinguishes robot mode for successful
// query output shape.
func emitFailure(err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.New(apperr.KindConfig, "cli.unexpected", err.Error())
	}
	b, marshalErr := json.Marshal(ae)
	if marshalErr != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return
	}
	fmt.Fprintln(os.Stderr, string(b))
}

// signalContext returns a context canceled on SIGINT/SIGTERM, so a long
// full rebuild or watch loop stops between files rather than mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
