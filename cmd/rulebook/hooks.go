package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/hooks"
	"github.com/hivellm/rulebook-sub008/internal/ui"
)

var hooksForce bool

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Manage the git hooks that run the quality gates",
	Long: `rulebook installs two git hooks built from the gate commands in the
project config:

  pre-commit   type check and lint
  pre-push     tests and coverage

An existing hook that rulebook did not write is moved to <hook>.backup and
restored by "rulebook hooks uninstall".`,
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install or refresh the hooks",
	Args:  cobra.NoArgs,
	RunE:  runHooksInstall,
}

var hooksUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove rulebook hooks and restore backups",
	Args:  cobra.NoArgs,
	RunE:  runHooksUninstall,
}

var hooksStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which hooks are installed",
	Args:  cobra.NoArgs,
	RunE:  runHooksStatus,
}

func init() {
	hooksInstallCmd.Flags().BoolVar(&hooksForce, "force", false, "Rewrite hooks even when up to date or when a backup already exists")
	hooksCmd.AddCommand(hooksInstallCmd, hooksUninstallCmd, hooksStatusCmd)
	rootCmd.AddCommand(hooksCmd)
}

func runHooksInstall(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	if GetDryRun() {
		fmt.Printf("[dry-run] Would install git hooks: %v\n", hooks.Names())
		return nil
	}
	return installHooks(root, cfg, hooksForce)
}

func installHooks(root string, cfg *config.Config, force bool) error {
	changes, err := hooks.Install(root, cfg, force)
	if err != nil {
		return err
	}
	return emit(changes, func() error {
		printHookChanges(changes)
		return nil
	})
}

func runHooksUninstall(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	if GetDryRun() {
		fmt.Printf("[dry-run] Would remove rulebook hooks: %v\n", hooks.Names())
		return nil
	}
	changes, err := hooks.Uninstall(root)
	if err != nil {
		return err
	}
	return emit(changes, func() error {
		printHookChanges(changes)
		return nil
	})
}

func printHookChanges(changes []hooks.Change) {
	for _, c := range changes {
		mark := ui.OK("✓")
		if c.Action == hooks.ActionSkipped {
			mark = ui.Dim("-")
		}
		line := fmt.Sprintf("%s %-10s %s", mark, c.Hook, c.Action)
		if c.Backup != "" {
			line += " (backup: " + c.Backup + ")"
		}
		if c.Note != "" {
			line += " (" + c.Note + ")"
		}
		fmt.Println(line)
	}
}

func runHooksStatus(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	statuses, err := hooks.Status(root)
	if err != nil {
		return err
	}
	return emit(statuses, func() error {
		for _, s := range statuses {
			state := "not installed"
			switch {
			case s.Managed:
				state = "installed"
			case s.Installed:
				state = "foreign hook"
			}
			if s.Backup {
				state += ", backup present"
			}
			fmt.Printf("%s %-10s %s\n", ui.Check(s.Managed), s.Hook, state)
		}
		return nil
	})
}
