package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/ui"
	"github.com/hivellm/rulebook-sub008/internal/watch"
)

var watcherCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Live view of tasks and Ralph progress",
	Long: `Show every active task with its checklist progress and the Ralph backlog
in a full-screen view that refreshes when files under the tasks directory
or .rulebook/ralph change.

Keys: r refresh, q quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.IsTerminal(os.Stdout) {
			return fmt.Errorf("watcher needs an interactive terminal; use `rulebook task list` or `rulebook ralph status` instead")
		}
		root, err := projectRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()
		return watch.Run(ctx, root, cfg, newLogger())
	},
}

func init() {
	rootCmd.AddCommand(watcherCmd)
}
