package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/odooctl/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve odooctl operations as MCP tools over stdio",
	Long: `Serve odooctl operations to an MCP client (for example an AI assistant)
over stdin/stdout.

Tools:
  odoo_trigger      run an action against a target id, optionally waiting
  odoo_task_status  look up a task once
  odoo_wait_task    follow a task until it finishes
  odoo_whoami       show the signed-in account
  odoo_history      list tasks tracked from this machine

Sign in with 'odooctl login' first; the server uses the stored credentials.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	// Tool results carry the outcome; stderr stays for logs.
	rt.detachPrinter()
	if err := rt.session.Watch(cmd.Context()); err != nil {
		rt.logger.Warn("cannot watch credentials", "error", err)
	}

	srv := mcpserver.New(rt.client, rt.tracker(), rt.history, rt.logger, Version)
	return srv.Run()
}
