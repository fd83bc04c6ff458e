package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/config"
)

type versionInfo struct {
	Version       string `json:"version" yaml:"version"`
	GoVersion     string `json:"goVersion" yaml:"go_version"`
	Platform      string `json:"platform" yaml:"platform"`
	ProjectConfig string `json:"projectConfigVersion,omitempty" yaml:"project_config_version,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Print the rulebook version and the version recorded in the project
config by the last init or update. When they differ, run "rulebook update"
to regenerate AGENTS.md with the current templates.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo{
			Version:   version,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		if root, err := projectRoot(); err == nil {
			if cfg, err := config.LoadProject(config.ProjectConfigPath(root)); err == nil {
				info.ProjectConfig = cfg.Version
			}
		}
		return emit(info, func() error {
			fmt.Printf("rulebook %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
			if info.ProjectConfig != "" && info.ProjectConfig != info.Version {
				fmt.Printf("  project generated by %s; run `rulebook update` to refresh\n", info.ProjectConfig)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
