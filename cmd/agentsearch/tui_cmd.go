package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagTUIOnce bool

// tuiCmd is a thin launcher: the terminal UI is an external front-end
// that consumes this core's structured query output, not code that
// lives in this module.
var tuiCmd = &cobra.Command{
	Use:    "tui",
	Short:  "Launch the terminal UI front-end",
	Hidden: true,
	RunE:   runTUI,
}

func init() {
	tuiCmd.Flags().BoolVar(&flagTUIOnce, "once", false, "render one frame and exit, for headless smoke tests")
}

func runTUI(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), "the terminal UI is a separate front-end; this binary only indexes and searches")
	return nil
}
