package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View and manage rulebook configuration.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (RULEBOOK_*)
  3. Project config (.rulebook/rulebook.json, comments allowed)
  4. Home config (~/.rulebook/config.yaml)
  5. Defaults

Environment variables:
  RULEBOOK_CONFIG                 - Project config path (same as --config)
  RULEBOOK_OUTPUT                 - Default output format (table, json, yaml)
  RULEBOOK_VERBOSE                - Enable verbose output (true/1)
  RULEBOOK_COVERAGE_THRESHOLD     - Minimum coverage percentage
  RULEBOOK_TASKS_DIR              - Tasks directory
  RULEBOOK_RALPH_TOOL             - AI tool (claude, codex, gemini, custom)
  RULEBOOK_RALPH_COMMAND          - AI tool executable
  RULEBOOK_RALPH_MAX_ITERATIONS   - Iteration limit per run
  RULEBOOK_RALPH_TIMEOUT          - Per-iteration timeout (e.g. 30m)
  RULEBOOK_RALPH_PARALLEL         - Stories run concurrently

Examples:
  rulebook config show
  rulebook config show -o json
  rulebook config set ralph.tool codex
  rulebook config set gates.test "go test ./..."`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved configuration with sources",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a key in the project config",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	resolved := config.Resolve(root, flagOverrides(), GetVerbose())

	return emit(resolved, func() error {
		fmt.Println(ui.Heading("rulebook configuration"))
		fmt.Println()
		fmt.Println("Config files:")
		home, _ := os.UserHomeDir()
		printConfigFile("Home:   ", home+"/.rulebook/config.yaml")
		printConfigFile("Project:", config.ProjectConfigPath(root))
		fmt.Println()

		fmt.Println("Resolved values:")
		w := newTable()
		for _, f := range resolved {
			//nolint:errcheck // CLI tabwriter output to stdout
			fmt.Fprintf(w, "  %s\t%v\t(from %s)\n", f.Key, f.Value, f.Source)
		}
		return w.Flush()
	})
}

func printConfigFile(label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  %s %s %s\n", ui.OK("✓"), label, path)
		return
	}
	fmt.Printf("  %s %s %s %s\n", ui.Dim("✗"), label, path, ui.Dim("(not found)"))
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	path := config.ProjectConfigPath(root)
	cfg, err := config.LoadProject(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		cfg = &config.Config{}
	}

	key, value := args[0], args[1]
	if err := config.Set(cfg, key, value); err != nil {
		return err
	}
	if GetDryRun() {
		fmt.Printf("[dry-run] Would set %s = %s in %s\n", key, value, path)
		return nil
	}
	cfg.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := config.SaveProject(path, cfg); err != nil {
		return err
	}
	fmt.Printf("%s %s = %s\n", ui.OK("✓"), key, value)
	return nil
}
