package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/mcp"
	"github.com/joescharf/prguard/internal/rules"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP-capable assistant scan diffs with the security rules and
query review history and AI spend. Configure it with:

  {
    "mcpServers": {
      "prguard": { "command": "prguard", "args": ["mcp"] }
    }
  }

Available tools: prguard_scan_diff, prguard_cost_summary,
prguard_list_runs, prguard_get_run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interruptible(cmd.Context())
		defer stop()

		s, err := getStore()
		if err != nil {
			// Run history tools report the error; scanning still works.
			getLogger().Warn("run history unavailable", "error", err)
		}
		engine := rules.NewEngine(rules.WithWorkers(viper.GetInt("review.workers")))
		srv := mcp.NewServer(s, engine, getLedger(), buildVersion)
		return srv.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
