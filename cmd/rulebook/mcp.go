package main

import (
	"github.com/spf13/cobra"

	"github.com/hivellm/rulebook-sub008/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve task and Ralph tools over MCP (stdio)",
	Long: `Start a Model Context Protocol server on stdin/stdout so MCP clients can
create, inspect, update, validate and archive tasks and read Ralph status.

Register it with your client, for example:
  { "command": "rulebook", "args": ["mcp", "-C", "/path/to/project"] }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}
		return mcpserver.Serve(root, cfg, version)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
