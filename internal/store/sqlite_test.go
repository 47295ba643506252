package store

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidellis/mend/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func newTestProposal(t *testing.T, s *SQLiteStore, status models.ProposalStatus) *models.Proposal {
	t.Helper()
	ctx := context.Background()

	p := &models.Proposal{
		Reviewer:    "imperium",
		FilePath:    "pkg/util.go",
		CodeBefore:  "package util\n",
		CodeAfter:   "package util\n\n// improved\n",
		Description: "imperium: performance",
	}
	require.NoError(t, s.CreateProposal(ctx, p))

	// Walk the proposal to the requested status through valid edges.
	path := map[models.ProposalStatus][]models.ProposalStatus{
		models.StatusPending:    nil,
		models.StatusApproved:   {models.StatusApproved},
		models.StatusTesting:    {models.StatusApproved, models.StatusTesting},
		models.StatusTestPassed: {models.StatusApproved, models.StatusTesting, models.StatusTestPassed},
		models.StatusTestFailed: {models.StatusApproved, models.StatusTesting, models.StatusTestFailed},
		models.StatusApplied:    {models.StatusApproved, models.StatusTesting, models.StatusTestPassed, models.StatusApplied},
		models.StatusRejected:   {models.StatusRejected},
	}
	for _, step := range path[status] {
		_, err := s.Transition(ctx, p.ID, step, TransitionMeta{Reason: "test setup"})
		require.NoError(t, err)
	}

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, status, got.Status)
	return got
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Proposals ---

func TestCreateProposal_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Proposal{
		Reviewer:  "guardian",
		FilePath:  "auth/session.go",
		CodeAfter: "package auth\n",
	}
	err := s.CreateProposal(ctx, p)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Equal(t, models.StatusPending, p.Status)
	assert.Equal(t, models.TestNotRun, p.TestStatus)

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Reviewer, got.Reviewer)
	assert.Equal(t, p.FilePath, got.FilePath)
	assert.Equal(t, p.CodeAfter, got.CodeAfter)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestGetProposal_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProposal(context.Background(), "NOSUCHID")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListProposals_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateProposal(ctx, &models.Proposal{
			Reviewer: "imperium", FilePath: "a.go", CodeAfter: "x",
		}))
	}
	p := &models.Proposal{Reviewer: "guardian", FilePath: "b.go", CodeAfter: "y"}
	require.NoError(t, s.CreateProposal(ctx, p))
	_, err := s.Transition(ctx, p.ID, models.StatusApproved, TransitionMeta{Reason: "ok"})
	require.NoError(t, err)

	all, err := s.ListProposals(ctx, ProposalFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byReviewer, err := s.ListProposals(ctx, ProposalFilter{Reviewer: "guardian"})
	require.NoError(t, err)
	require.Len(t, byReviewer, 1)
	assert.Equal(t, "b.go", byReviewer[0].FilePath)

	byStatus, err := s.ListProposals(ctx, ProposalFilter{Status: models.StatusPending})
	require.NoError(t, err)
	assert.Len(t, byStatus, 3)

	limited, err := s.ListProposals(ctx, ProposalFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

// --- Lifecycle transitions ---

func TestTransition_ValidEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProposal(t, s, models.StatusPending)

	updated, err := s.Transition(ctx, p.ID, models.StatusApproved, TransitionMeta{Reason: "looks good"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
}

func TestTransition_InvalidEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProposal(t, s, models.StatusPending)

	// pending -> applied is not an edge
	_, err := s.Transition(ctx, p.ID, models.StatusApplied, TransitionMeta{Reason: "skip the gate"})
	require.Error(t, err)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, models.StatusPending, ite.From)
	assert.Equal(t, models.StatusApplied, ite.To)

	// Proposal unchanged, no audit entry written
	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	entries, err := s.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransition_TerminalStatesAreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, terminal := range []models.ProposalStatus{models.StatusApplied, models.StatusRejected} {
		p := newTestProposal(t, s, terminal)

		for _, to := range []models.ProposalStatus{
			models.StatusPending, models.StatusApproved, models.StatusTesting,
			models.StatusTestPassed, models.StatusTestFailed,
			models.StatusApplied, models.StatusRejected,
		} {
			_, err := s.Transition(ctx, p.ID, to, TransitionMeta{Reason: "should fail"})
			var ite *InvalidTransitionError
			assert.ErrorAs(t, err, &ite, "%s -> %s must be rejected", terminal, to)
		}
	}
}

func TestTransition_TestingRetryEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// An inconclusive verification run returns the proposal to approved.
	p := newTestProposal(t, s, models.StatusTesting)
	updated, err := s.Transition(ctx, p.ID, models.StatusApproved, TransitionMeta{Reason: "runner unavailable"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)
}

func TestTransition_RecordsAuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProposal(t, s, models.StatusPending)

	_, err := s.Transition(ctx, p.ID, models.StatusApproved, TransitionMeta{Reason: "approved by alice"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, p.ID, models.StatusTesting, TransitionMeta{Reason: "verification started"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, p.ID, models.StatusTestFailed, TransitionMeta{
		Reason:     "verification failed",
		TestStatus: models.TestFailed,
		TestOutput: "FAIL: TestThing",
	})
	require.NoError(t, err)

	entries, err := s.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, models.StatusPending, entries[0].From)
	assert.Equal(t, models.StatusApproved, entries[0].To)
	assert.Equal(t, "approved by alice", entries[0].Reason)
	assert.Equal(t, models.StatusTesting, entries[1].To)
	assert.Equal(t, models.StatusTestFailed, entries[2].To)

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TestFailed, got.TestStatus)
	assert.Equal(t, "FAIL: TestThing", got.TestOutput)
}

func TestTransition_SetsResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := newTestProposal(t, s, models.StatusTestPassed)

	updated, err := s.Transition(ctx, p.ID, models.StatusApplied, TransitionMeta{
		Reason: "published upstream",
		Result: "https://github.com/acme/repo/pull/42",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/repo/pull/42", updated.Result)

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/repo/pull/42", got.Result)
}

// TestTransition_RandomWalk drives a proposal through random transition
// requests and checks that exactly the lifecycle edges succeed, that
// terminal states stick, and that the audit trail matches the accepted
// transitions one for one.
func TestTransition_RandomWalk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	statuses := []models.ProposalStatus{
		models.StatusPending, models.StatusApproved, models.StatusTesting,
		models.StatusTestPassed, models.StatusTestFailed,
		models.StatusApplied, models.StatusRejected,
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		p := newTestProposal(t, s, models.StatusPending)
		current := models.StatusPending
		accepted := 0

		for step := 0; step < 30; step++ {
			to := statuses[rng.Intn(len(statuses))]
			updated, err := s.Transition(ctx, p.ID, to, TransitionMeta{Reason: "random walk"})

			if CanTransition(current, to) {
				require.NoError(t, err, "edge %s -> %s must succeed", current, to)
				current = updated.Status
				accepted++
			} else {
				var ite *InvalidTransitionError
				require.ErrorAs(t, err, &ite, "edge %s -> %s must fail", current, to)
			}
		}

		got, err := s.GetProposal(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, current, got.Status)

		entries, err := s.ListTransitions(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, entries, accepted)
	}
}

func TestStatusSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestProposal(t, s, models.StatusPending)
	newTestProposal(t, s, models.StatusPending)
	newTestProposal(t, s, models.StatusApproved)
	newTestProposal(t, s, models.StatusApplied)

	summary, err := s.StatusSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary[models.StatusPending])
	assert.Equal(t, 1, summary[models.StatusApproved])
	assert.Equal(t, 1, summary[models.StatusApplied])
	assert.Equal(t, 0, summary[models.StatusRejected])
}

// --- Reviewer scores ---

func TestReviewerScoreUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetReviewerScore(ctx, "imperium")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	sc := &models.ReviewerScore{Reviewer: "imperium", Approvals: 3, Rejections: 1, Score: 55}
	require.NoError(t, s.UpsertReviewerScore(ctx, sc))

	got, err := s.GetReviewerScore(ctx, "imperium")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Approvals)
	assert.Equal(t, 55, got.Score)

	sc.Approvals = 4
	sc.Score = 60
	require.NoError(t, s.UpsertReviewerScore(ctx, sc))

	got, err = s.GetReviewerScore(ctx, "imperium")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Approvals)
	assert.Equal(t, 60, got.Score)

	require.NoError(t, s.UpsertReviewerScore(ctx, &models.ReviewerScore{Reviewer: "guardian", Score: 20}))
	scores, err := s.ListReviewerScores(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "guardian", scores[0].Reviewer)
	assert.Equal(t, "imperium", scores[1].Reviewer)
}
