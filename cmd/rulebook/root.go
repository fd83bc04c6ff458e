package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/logging"
	"github.com/hivellm/rulebook-sub008/internal/storage"
)

var (
	// Global flags
	dryRun     bool
	verbose    bool
	output     string
	cfgFile    string
	projectDir string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rulebook",
	Short: "Agent guidance files, task specs and the Ralph loop",
	Long: `rulebook generates and maintains the guidance AI coding agents read
(AGENTS.md and IDE pointer files), manages spec-driven tasks, and runs
Ralph, an autonomous loop that drives an AI CLI through a backlog of user
stories until they pass the project's quality gates.

Get Started:
  init         Detect the project and write AGENTS.md
  update       Regenerate AGENTS.md, keeping your own sections

Core Commands:
  task         Create, validate and archive task specs
  ralph        Run the autonomous loop
  hooks        Install quality gates as git hooks
  validate     Check AGENTS.md and task specs
  config       Show or change configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		syncConfigFlagToEnv()
		switch GetOutput() {
		case "table", "json", "yaml":
			return nil
		}
		return fmt.Errorf("invalid --output %q (valid: table|json|yaml)", GetOutput())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Project config file (default: .rulebook/rulebook.json)")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", "", "Project root (default: current directory)")
}

// GetDryRun returns the dry-run flag value for use by subcommands.
func GetDryRun() bool {
	return dryRun
}

// GetVerbose returns the verbose flag value for use by subcommands.
func GetVerbose() bool {
	return verbose
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("RULEBOOK_CONFIG", path)
}

// projectRoot resolves --dir, defaulting to the working directory.
func projectRoot() (string, error) {
	dir := projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return abs, nil
}

// flagOverrides carries the global flags that map onto config keys.
func flagOverrides() *config.Config {
	overrides := &config.Config{}
	if rootCmd.PersistentFlags().Changed("output") {
		overrides.Output = output
	}
	return overrides
}

// loadConfig loads the merged configuration for root.
func loadConfig(root string) (*config.Config, error) {
	return config.Load(root, flagOverrides())
}

// loadProjectConfig is loadConfig for commands that need `rulebook init`
// to have run first.
func loadProjectConfig(root string) (*config.Config, error) {
	if _, err := os.Stat(config.ProjectConfigPath(root)); err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotInitialized
		}
		return nil, err
	}
	return loadConfig(root)
}

// newLogger returns the diagnostics logger for the current --verbose setting.
func newLogger() *zap.Logger {
	log, err := logging.New(GetVerbose())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return zap.NewNop()
	}
	return log
}
