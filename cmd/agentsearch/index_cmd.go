package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagFull  bool
	flagWatch bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan every detected agent and update the store and full-text index",
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagFull, "full", false, "rebuild the full-text index from scratch, ignoring watermarks")
	indexCmd.Flags().BoolVar(&flagWatch, "watch", false, "after the initial scan, watch each agent's directory and rescan on change")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, st, ix, closeStack, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer closeStack()

	orch := newOrchestrator(cfg, st, ix)

	ctx, cancel := signalContext()
	defer cancel()

	if flagFull {
		logger.Info(ctx, "starting full rebuild")
		if err := orch.RunFull(ctx); err != nil {
			return err
		}
	} else {
		logger.Info(ctx, "starting incremental scan")
		if err := orch.RunIncremental(ctx); err != nil {
			return err
		}
	}

	if flagWatch {
		fmt.Fprintln(cmd.OutOrStdout(), "watching for changes, press Ctrl+C to stop")
		return orch.Watch(ctx, cfg.Watch.Debounce.Duration())
	}

	fmt.Fprintln(cmd.OutOrStdout(), "index up to date")
	return nil
}
