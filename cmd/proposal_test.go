package cmd

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidellis/mend/internal/models"
	"github.com/sidellis/mend/internal/output"
	"github.com/sidellis/mend/internal/store"
)

// newCmdTestStore swaps the shared store and UI for a test-local pair so
// command run funcs can be exercised directly.
func newCmdTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	prevStore, prevUI, prevReason := dataStore, ui, proposalReason
	dataStore = s
	ui = output.New()
	ui.Out = io.Discard
	ui.ErrOut = io.Discard
	proposalReason = ""
	t.Cleanup(func() {
		dataStore, ui, proposalReason = prevStore, prevUI, prevReason
		_ = s.Close()
	})
	return s
}

func newCmdTestProposal(t *testing.T, s store.Store) *models.Proposal {
	t.Helper()
	p := &models.Proposal{
		Reviewer:  "imperium",
		FilePath:  "pkg/a.go",
		CodeAfter: "package a // v2\n",
	}
	require.NoError(t, s.CreateProposal(context.Background(), p))
	return p
}

func TestProposalDecide_UpdatesReviewerScore(t *testing.T) {
	s := newCmdTestStore(t)
	ctx := context.Background()

	p := newCmdTestProposal(t, s)
	require.NoError(t, proposalDecideRun(p.ID, models.StatusApproved))

	// Deciding from the CLI must feed the score like the API does.
	sc, err := s.GetReviewerScore(ctx, "imperium")
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Approvals)
	assert.Equal(t, 0, sc.Rejections)

	p2 := newCmdTestProposal(t, s)
	require.NoError(t, proposalDecideRun(p2.ID, models.StatusRejected))

	sc, err = s.GetReviewerScore(ctx, "imperium")
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Approvals)
	assert.Equal(t, 1, sc.Rejections)
}

func TestProposalDecide_InvalidTransitionFails(t *testing.T) {
	s := newCmdTestStore(t)

	p := newCmdTestProposal(t, s)
	require.NoError(t, proposalDecideRun(p.ID, models.StatusRejected))

	// rejected is terminal; a later approve must not touch the score.
	require.Error(t, proposalDecideRun(p.ID, models.StatusApproved))

	sc, err := s.GetReviewerScore(context.Background(), "imperium")
	require.NoError(t, err)
	assert.Equal(t, 0, sc.Approvals)
	assert.Equal(t, 1, sc.Rejections)
}
