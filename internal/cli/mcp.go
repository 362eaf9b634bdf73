package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	vqmcp "github.com/valter-silva-au/vaultq/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the vaultq MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vaultq MCP server on stdio",
	Long: `Start the vaultq MCP server on stdio transport.

The server exposes the queue as MCP tools that AI assistants can call:
queue_status, list_records, get_record, list_approvals, decide_approval,
get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil || Gate == nil || Sched == nil {
			return fmt.Errorf("record store not initialized")
		}

		srv := vqmcp.NewServer(vqmcp.Services{
			Store:       Store,
			Scheduler:   Sched,
			Gate:        Gate,
			Registry:    Registry,
			MetricsCalc: MetricsCalc,
			AlertEngine: AlertEngine,
		}, appVersion)

		if err := srv.Run(commandContext(cmd)); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
