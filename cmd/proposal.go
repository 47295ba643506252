package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidellis/mend/internal/learning"
	"github.com/sidellis/mend/internal/models"
	"github.com/sidellis/mend/internal/output"
	"github.com/sidellis/mend/internal/store"
)

var (
	proposalStatus   string
	proposalReviewer string
	proposalLimit    int
	proposalReason   string
	proposalDiff     bool
)

var proposalCmd = &cobra.Command{
	Use:     "proposal",
	Aliases: []string{"proposals"},
	Short:   "Inspect and decide change proposals",
	Long:    "List, inspect, approve, and reject reviewer-generated change proposals.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return proposalListRun()
	},
}

var proposalListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		return proposalListRun()
	},
}

var proposalShowCmd = &cobra.Command{
	Use:   "show <proposal-id>",
	Short: "Show proposal details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return proposalShowRun(args[0])
	},
}

var proposalApproveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "Approve a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return proposalDecideRun(args[0], models.StatusApproved)
	},
}

var proposalRejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Reject a proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return proposalDecideRun(args[0], models.StatusRejected)
	},
}

var proposalHistoryCmd = &cobra.Command{
	Use:   "history <proposal-id>",
	Short: "Show the proposal's transition history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return proposalHistoryRun(args[0])
	},
}

var proposalSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show proposal counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return proposalSummaryRun()
	},
}

func init() {
	proposalListCmd.Flags().StringVar(&proposalStatus, "status", "", "Filter by status: pending, approved, testing, test-passed, test-failed, applied, rejected")
	proposalListCmd.Flags().StringVar(&proposalReviewer, "reviewer", "", "Filter by reviewer")
	proposalListCmd.Flags().IntVar(&proposalLimit, "limit", 0, "Maximum proposals to show")

	proposalShowCmd.Flags().BoolVar(&proposalDiff, "code", false, "Include before/after code bodies")

	proposalApproveCmd.Flags().StringVar(&proposalReason, "reason", "", "Reason for the decision")
	proposalRejectCmd.Flags().StringVar(&proposalReason, "reason", "", "Reason for the decision")

	proposalCmd.AddCommand(proposalListCmd)
	proposalCmd.AddCommand(proposalShowCmd)
	proposalCmd.AddCommand(proposalApproveCmd)
	proposalCmd.AddCommand(proposalRejectCmd)
	proposalCmd.AddCommand(proposalHistoryCmd)
	proposalCmd.AddCommand(proposalSummaryCmd)
	rootCmd.AddCommand(proposalCmd)
}

func proposalListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	proposals, err := s.ListProposals(ctx, store.ProposalFilter{
		Status:   models.ProposalStatus(proposalStatus),
		Reviewer: proposalReviewer,
		Limit:    proposalLimit,
	})
	if err != nil {
		return err
	}

	if len(proposals) == 0 {
		ui.Info("No proposals found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Reviewer", "File", "Status", "Tests", "Created"})
	for _, p := range proposals {
		_ = table.Append([]string{
			shortID(p.ID),
			p.Reviewer,
			p.FilePath,
			output.StatusColor(string(p.Status)),
			string(p.TestStatus),
			p.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

func proposalShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := findProposal(ctx, s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(p.ID)), p.FilePath)
	fmt.Fprintf(ui.Out, "  Reviewer:   %s\n", p.Reviewer)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(p.Status)))
	fmt.Fprintf(ui.Out, "  Tests:      %s\n", p.TestStatus)
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", p.Description)
	}
	if p.Result != "" {
		fmt.Fprintf(ui.Out, "  Result:     %s\n", p.Result)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", p.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", p.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", p.ID)

	if p.TestOutput != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "  Test output:")
		for _, line := range strings.Split(strings.TrimRight(p.TestOutput, "\n"), "\n") {
			fmt.Fprintf(ui.Out, "    %s\n", line)
		}
	}

	if proposalDiff {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "%s\n%s\n", output.Yellow("--- before"), p.CodeBefore)
		fmt.Fprintf(ui.Out, "%s\n%s\n", output.Green("+++ after"), p.CodeAfter)
	}
	return nil
}

func proposalDecideRun(id string, to models.ProposalStatus) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := findProposal(ctx, s, id)
	if err != nil {
		return err
	}

	reason := proposalReason
	if reason == "" {
		reason = fmt.Sprintf("%s via CLI", to)
	}

	updated, err := s.Transition(ctx, p.ID, to, store.TransitionMeta{Reason: reason})
	if err != nil {
		return err
	}

	// CLI decisions feed reviewer scores the same as API and MCP ones.
	signal := learning.SignalApproved
	if to == models.StatusRejected {
		signal = learning.SignalRejected
	}
	learning.NewStoreSink(s, nil).ReportOutcome(ctx, updated.Reviewer, signal, reason)

	if to == models.StatusApproved {
		ui.Success("Approved %s (%s); next reconcile pass will verify it", output.Cyan(shortID(updated.ID)), updated.FilePath)
	} else {
		ui.Success("Rejected %s (%s)", output.Cyan(shortID(updated.ID)), updated.FilePath)
	}
	return nil
}

func proposalHistoryRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := findProposal(ctx, s, id)
	if err != nil {
		return err
	}

	entries, err := s.ListTransitions(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("No transitions recorded for %s.", shortID(p.ID))
		return nil
	}

	table := ui.Table([]string{"When", "From", "To", "Reason"})
	for _, e := range entries {
		_ = table.Append([]string{
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			output.StatusColor(string(e.From)),
			output.StatusColor(string(e.To)),
			e.Reason,
		})
	}
	_ = table.Render()
	return nil
}

func proposalSummaryRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	summary, err := s.StatusSummary(context.Background())
	if err != nil {
		return err
	}

	order := []models.ProposalStatus{
		models.StatusPending, models.StatusApproved, models.StatusTesting,
		models.StatusTestPassed, models.StatusTestFailed,
		models.StatusApplied, models.StatusRejected,
	}

	table := ui.Table([]string{"Status", "Count"})
	total := 0
	for _, st := range order {
		n := summary[st]
		total += n
		_ = table.Append([]string{output.StatusColor(string(st)), fmt.Sprintf("%d", n)})
	}
	_ = table.Render()
	fmt.Fprintf(ui.Out, "\n  Total: %d\n", total)
	return nil
}

// findProposal finds a proposal by full ID or prefix match.
func findProposal(ctx context.Context, s store.Store, id string) (*models.Proposal, error) {
	// Try exact match first
	if p, err := s.GetProposal(ctx, id); err == nil {
		return p, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	proposals, err := s.ListProposals(ctx, store.ProposalFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Proposal
	for _, p := range proposals {
		if strings.HasPrefix(p.ID, upper) {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("proposal not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous proposal ID %s: matches %d proposals", id, len(matches))
	}
}
