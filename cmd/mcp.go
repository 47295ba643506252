package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sidellis/mend/internal/learning"
	"github.com/sidellis/mend/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets agent frontends browse the proposal queue and approve or
reject proposals natively. Configure with:

  {
    "mcpServers": {
      "mend": { "command": "mend", "args": ["mcp"] }
    }
  }

Available tools: mend_list_proposals, mend_get_proposal,
mend_approve_proposal, mend_reject_proposal, mend_proposal_summary,
mend_reviewer_scores`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(s, learning.NewStoreSink(s, newLogger()))
		return srv.ServeStdio(context.Background(), buildVersion)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
