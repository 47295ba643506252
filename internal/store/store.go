package store

import (
	"context"
	"fmt"

	"github.com/sidellis/mend/internal/models"
)

// ProposalFilter specifies filters for listing proposals.
type ProposalFilter struct {
	Status   models.ProposalStatus
	Reviewer string
	Limit    int
}

// TransitionMeta carries the audit reason and any fields a transition is
// allowed to set alongside the status change.
type TransitionMeta struct {
	Reason     string
	TestStatus models.TestStatus
	TestOutput string
	Result     string
}

// InvalidTransitionError is returned when a requested status change is not
// an edge of the proposal lifecycle graph, or when the proposal's current
// status changed underneath the caller. The proposal is left unchanged.
type InvalidTransitionError struct {
	ID   string
	From models.ProposalStatus
	To   models.ProposalStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for proposal %s: %s -> %s", e.ID, e.From, e.To)
}

// Store defines the persistence interface for mend.
type Store interface {
	// Proposals
	CreateProposal(ctx context.Context, p *models.Proposal) error
	GetProposal(ctx context.Context, id string) (*models.Proposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]*models.Proposal, error)
	Transition(ctx context.Context, id string, to models.ProposalStatus, meta TransitionMeta) (*models.Proposal, error)
	ListTransitions(ctx context.Context, proposalID string) ([]*models.TransitionEntry, error)
	StatusSummary(ctx context.Context) (map[models.ProposalStatus]int, error)

	// Reviewer scores
	GetReviewerScore(ctx context.Context, reviewer string) (*models.ReviewerScore, error)
	UpsertReviewerScore(ctx context.Context, score *models.ReviewerScore) error
	ListReviewerScores(ctx context.Context) ([]*models.ReviewerScore, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// transitions is the directed graph of allowed status changes. The
// testing -> approved edge exists only for inconclusive verification runs,
// returning the proposal to the reconcile queue without consuming a
// terminal transition. Terminal statuses (applied, rejected) have no
// outgoing edges.
var transitions = map[models.ProposalStatus][]models.ProposalStatus{
	models.StatusPending:    {models.StatusApproved, models.StatusRejected},
	models.StatusApproved:   {models.StatusTesting, models.StatusRejected},
	models.StatusTesting:    {models.StatusTestPassed, models.StatusTestFailed, models.StatusApproved, models.StatusRejected},
	models.StatusTestPassed: {models.StatusApplied, models.StatusRejected},
	models.StatusTestFailed: {models.StatusRejected},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to models.ProposalStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
