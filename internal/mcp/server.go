// Package mcp exposes the proposal repository as MCP tools over stdio,
// so agent frontends can review and decide proposals directly.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sidellis/mend/internal/learning"
	"github.com/sidellis/mend/internal/models"
	"github.com/sidellis/mend/internal/store"
)

// Server wraps the mend data layer and exposes it as MCP tools.
type Server struct {
	store store.Store
	sink  learning.Sink
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, sink learning.Sink) *Server {
	if sink == nil {
		sink = learning.NopSink{}
	}
	return &Server{store: s, sink: sink}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("mend", version, server.WithToolCapabilities(true))

	srv.AddTool(s.listProposalsTool())
	srv.AddTool(s.getProposalTool())
	srv.AddTool(s.approveProposalTool())
	srv.AddTool(s.rejectProposalTool())
	srv.AddTool(s.proposalSummaryTool())
	srv.AddTool(s.reviewerScoresTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, version string) error {
	srv := s.MCPServer(version)
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// proposalOut is the compact listing shape: code bodies are omitted so a
// large queue stays readable. Use mend_get_proposal for full content.
type proposalOut struct {
	ID          string `json:"id"`
	Reviewer    string `json:"reviewer"`
	FilePath    string `json:"file_path"`
	Description string `json:"description"`
	Status      string `json:"status"`
	TestStatus  string `json:"test_status"`
	Result      string `json:"result,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toProposalOut(p *models.Proposal) proposalOut {
	return proposalOut{
		ID:          p.ID,
		Reviewer:    p.Reviewer,
		FilePath:    p.FilePath,
		Description: p.Description,
		Status:      string(p.Status),
		TestStatus:  string(p.TestStatus),
		Result:      p.Result,
		CreatedAt:   p.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// mend_list_proposals
func (s *Server) listProposalsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_list_proposals",
		mcp.WithDescription("List proposals, optionally filtered by status (pending, approved, testing, test-passed, test-failed, applied, rejected) and reviewer. Returns a JSON array without code bodies."),
		mcp.WithString("status", mcp.Description("Filter by lifecycle status")),
		mcp.WithString("reviewer", mcp.Description("Filter by reviewer name")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of proposals to return")),
	)
	return tool, s.handleListProposals
}

func (s *Server) handleListProposals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.ProposalFilter{
		Status:   models.ProposalStatus(request.GetString("status", "")),
		Reviewer: request.GetString("reviewer", ""),
		Limit:    request.GetInt("limit", 0),
	}

	proposals, err := s.store.ListProposals(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list proposals: %v", err)), nil
	}

	out := make([]proposalOut, len(proposals))
	for i, p := range proposals {
		out[i] = toProposalOut(p)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal proposals: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mend_get_proposal
func (s *Server) getProposalTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_get_proposal",
		mcp.WithDescription("Get one proposal with full before/after code, test output, and transition history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Proposal ID")),
	)
	return tool, s.handleGetProposal
}

func (s *Server) handleGetProposal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("proposal not found: %s", id)), nil
	}
	entries, _ := s.store.ListTransitions(ctx, id)

	history := make([]map[string]any, len(entries))
	for i, e := range entries {
		history[i] = map[string]any{
			"from":   e.From,
			"to":     e.To,
			"reason": e.Reason,
			"at":     e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	result := map[string]any{
		"id":          p.ID,
		"reviewer":    p.Reviewer,
		"file_path":   p.FilePath,
		"description": p.Description,
		"status":      p.Status,
		"test_status": p.TestStatus,
		"test_output": p.TestOutput,
		"result":      p.Result,
		"code_before": p.CodeBefore,
		"code_after":  p.CodeAfter,
		"transitions": history,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal proposal: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mend_approve_proposal
func (s *Server) approveProposalTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_approve_proposal",
		mcp.WithDescription("Approve a pending proposal, queueing it for verification and publication."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Proposal ID")),
		mcp.WithString("reason", mcp.Description("Why the proposal is approved")),
	)
	return tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.decide(ctx, request, models.StatusApproved, learning.SignalApproved)
	}
}

// mend_reject_proposal
func (s *Server) rejectProposalTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_reject_proposal",
		mcp.WithDescription("Reject a proposal. Works from any non-terminal status."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Proposal ID")),
		mcp.WithString("reason", mcp.Description("Why the proposal is rejected")),
	)
	return tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.decide(ctx, request, models.StatusRejected, learning.SignalRejected)
	}
}

func (s *Server) decide(ctx context.Context, request mcp.CallToolRequest, to models.ProposalStatus, signal learning.Signal) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	reason := request.GetString("reason", string(to)+" via MCP")

	p, err := s.store.Transition(ctx, id, to, store.TransitionMeta{Reason: reason})
	if err != nil {
		var ite *store.InvalidTransitionError
		if errors.As(err, &ite) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to update proposal: %v", err)), nil
	}

	s.sink.ReportOutcome(ctx, p.Reviewer, signal, reason)

	data, _ := json.Marshal(toProposalOut(p))
	return mcp.NewToolResultText(string(data)), nil
}

// mend_proposal_summary
func (s *Server) proposalSummaryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_proposal_summary",
		mcp.WithDescription("Get proposal counts grouped by lifecycle status."),
	)
	return tool, s.handleProposalSummary
}

func (s *Server) handleProposalSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := s.store.StatusSummary(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to summarize proposals: %v", err)), nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mend_reviewer_scores
func (s *Server) reviewerScoresTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_reviewer_scores",
		mcp.WithDescription("List per-reviewer outcome counters and the weighted 0-100 score."),
	)
	return tool, s.handleReviewerScores
}

func (s *Server) handleReviewerScores(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scores, err := s.store.ListReviewerScores(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviewer scores: %v", err)), nil
	}

	out := make([]map[string]any, len(scores))
	for i, sc := range scores {
		out[i] = map[string]any{
			"reviewer":      sc.Reviewer,
			"approvals":     sc.Approvals,
			"rejections":    sc.Rejections,
			"test_passes":   sc.TestPasses,
			"test_failures": sc.TestFailures,
			"applied":       sc.Applied,
			"score":         sc.Score,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal scores: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
