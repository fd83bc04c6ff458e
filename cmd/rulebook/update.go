package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/agents"
	"github.com/hivellm/rulebook-sub008/internal/config"
)

var updateKeepStale bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Regenerate AGENTS.md from the current config",
	Long: `Regenerate every rulebook block in AGENTS.md from the project config and
the embedded templates, replacing each block in place. Text outside the
blocks is never touched.

Blocks that are no longer generated (for example after removing a
language) are dropped unless --keep-stale is set. IDE pointer files and,
when enabled, git hooks are refreshed too.`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&updateKeepStale, "keep-stale", false, "Keep blocks that are no longer generated")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadProjectConfig(root)
	if err != nil {
		return err
	}

	res, err := agents.Sync(root, cfg, agents.SyncOptions{Version: version, KeepStale: updateKeepStale, DryRun: GetDryRun()})
	if err != nil {
		return err
	}

	if GetDryRun() {
		fmt.Printf("[dry-run] %s: %d updated, %d added, %d removed\n",
			res.Path, len(res.Updated), len(res.Added), len(res.Removed))
		return writeIDEFiles(root, cfg, true)
	}

	printSync(res)
	if err := writeIDEFiles(root, cfg, false); err != nil {
		return err
	}
	if cfg.Features.GitHooks {
		if err := installHooks(root, cfg, false); err != nil {
			return err
		}
	}

	project, err := config.LoadProject(config.ProjectConfigPath(root))
	if err != nil {
		return err
	}
	project.Version = version
	project.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return config.SaveProject(config.ProjectConfigPath(root), project)
}
