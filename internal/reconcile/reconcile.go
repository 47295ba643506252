// Package reconcile implements the verification gate: the periodic pass
// that writes approved proposals into the mirror, runs the external test
// command, and publishes verified changes upstream.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/sidellis/mend/internal/events"
	"github.com/sidellis/mend/internal/learning"
	"github.com/sidellis/mend/internal/mirror"
	"github.com/sidellis/mend/internal/models"
	"github.com/sidellis/mend/internal/runner"
	"github.com/sidellis/mend/internal/store"
)

// Reconciler drives one reconciliation pass at a time. Proposals are
// processed strictly sequentially: they all share the single mutable
// mirror working copy.
type Reconciler struct {
	store  store.Store
	mirror *mirror.Manager
	runner runner.Runner
	pub    ChangePublisher
	bus    *events.Bus
	sink   learning.Sink
	log    *slog.Logger
}

// NewReconciler wires a reconciler.
func NewReconciler(s store.Store, m *mirror.Manager, r runner.Runner, pub ChangePublisher, bus *events.Bus, sink learning.Sink, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = learning.NopSink{}
	}
	return &Reconciler{store: s, mirror: m, runner: r, pub: pub, bus: bus, sink: sink, log: log}
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Tested    int `json:"tested"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Published int `json:"published"`
	Deferred  int `json:"deferred"` // inconclusive runs or failed publishes, retried next pass
	Rejected  int `json:"rejected"` // path-guard rejections
}

// RunPass executes one reconciliation pass: first retry publishes for
// proposals that already passed verification, then verify each approved
// proposal. Terminal proposals are never touched, so re-running a pass
// is idempotent.
func (r *Reconciler) RunPass(ctx context.Context) (*PassResult, error) {
	res := &PassResult{}

	if err := r.mirror.EnsureUpToDate(ctx); err != nil {
		// A stale mirror is still usable; a missing one is not.
		if _, statErr := os.Stat(r.mirror.Path()); statErr != nil {
			return nil, err
		}
		r.log.Warn("mirror sync failed, reconciling against existing copy", "error", err)
	} else {
		r.log.Debug("mirror synced", "head", r.mirror.Head())
	}

	r.retryPublishes(ctx, res)

	approved, err := r.store.ListProposals(ctx, store.ProposalFilter{Status: models.StatusApproved})
	if err != nil {
		return nil, err
	}

	for _, p := range approved {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		r.verifyOne(ctx, p, res)
	}
	return res, nil
}

// retryPublishes re-attempts publishing for proposals stuck in
// test-passed from an earlier pass. Verification is never repeated: the
// working copy already reflects the tested content.
func (r *Reconciler) retryPublishes(ctx context.Context, res *PassResult) {
	pending, err := r.store.ListProposals(ctx, store.ProposalFilter{Status: models.StatusTestPassed})
	if err != nil {
		r.log.Warn("failed to list unpublished proposals", "error", err)
		return
	}
	for _, p := range pending {
		r.publish(ctx, p, res)
	}
}

// verifyOne pushes a single approved proposal through the gate.
func (r *Reconciler) verifyOne(ctx context.Context, p *models.Proposal, res *PassResult) {
	if _, err := r.mirror.Resolve(p.FilePath); err != nil {
		r.log.Warn("rejecting proposal with unsafe path", "id", p.ID, "file", p.FilePath)
		r.transition(ctx, p, models.StatusRejected, store.TransitionMeta{Reason: "target path escapes mirror root"})
		r.bus.Publish(events.TypeProposalRejected, map[string]any{"id": p.ID, "reason": "unsafe path"})
		r.sink.ReportOutcome(ctx, p.Reviewer, learning.SignalRejected, "unsafe path")
		res.Rejected++
		return
	}

	if _, err := r.store.Transition(ctx, p.ID, models.StatusTesting, store.TransitionMeta{Reason: "verification started"}); err != nil {
		// Raced with an external reject; nothing to do.
		var ite *store.InvalidTransitionError
		if !errors.As(err, &ite) {
			r.log.Warn("failed to start verification", "id", p.ID, "error", err)
		}
		return
	}

	if err := r.mirror.WriteFile(p.FilePath, []byte(p.CodeAfter)); err != nil {
		r.log.Warn("mirror write failed, deferring proposal", "id", p.ID, "error", err)
		r.transition(ctx, p, models.StatusApproved, store.TransitionMeta{Reason: "mirror write failed: " + err.Error()})
		res.Deferred++
		return
	}

	r.bus.Publish(events.TypeTestStarted, map[string]any{"id": p.ID, "file": p.FilePath})
	res.Tested++

	result, err := r.runner.Run(ctx, r.mirror.Path())
	if err != nil {
		// Runner never concluded: inconclusive, not a test failure. The
		// proposal goes back to approved and is retried next pass.
		r.log.Warn("test runner unavailable, deferring proposal", "id", p.ID, "error", err)
		r.transition(ctx, p, models.StatusApproved, store.TransitionMeta{Reason: "test runner unavailable: " + err.Error()})
		res.Deferred++
		return
	}

	if !result.Passed {
		r.transition(ctx, p, models.StatusTestFailed, store.TransitionMeta{
			Reason:     "verification failed",
			TestStatus: models.TestFailed,
			TestOutput: result.Output,
		})
		r.bus.Publish(events.TypeTestFailed, map[string]any{"id": p.ID, "file": p.FilePath})
		r.sink.ReportOutcome(ctx, p.Reviewer, learning.SignalRejectedByTest, result.Output)
		res.Failed++
		return
	}

	updated := r.transition(ctx, p, models.StatusTestPassed, store.TransitionMeta{
		Reason:     "verification passed",
		TestStatus: models.TestPassed,
		TestOutput: result.Output,
	})
	r.bus.Publish(events.TypeTestFinished, map[string]any{"id": p.ID, "file": p.FilePath})
	r.sink.ReportOutcome(ctx, p.Reviewer, learning.SignalTestPassed, "")
	res.Passed++

	if updated != nil {
		r.publish(ctx, updated, res)
	}
}

// publish commits and opens the upstream change request for a
// test-passed proposal. On adapter failure the proposal stays
// test-passed and is retried on a later pass without re-testing.
func (r *Reconciler) publish(ctx context.Context, p *models.Proposal, res *PassResult) {
	url, err := r.pub.Publish(ctx, p)
	if err != nil {
		r.log.Warn("publish failed, will retry", "id", p.ID, "error", err)
		res.Deferred++
		return
	}

	if _, err := r.store.Transition(ctx, p.ID, models.StatusApplied, store.TransitionMeta{
		Reason: "published upstream",
		Result: url,
	}); err != nil {
		r.log.Error("published but failed to mark applied", "id", p.ID, "url", url, "error", err)
		return
	}

	r.bus.Publish(events.TypeProposalApplied, map[string]any{"id": p.ID, "url": url})
	r.sink.ReportOutcome(ctx, p.Reviewer, learning.SignalApplied, url)
	res.Published++
}

// transition is a logging helper for transitions whose failure we can
// only record, not act on.
func (r *Reconciler) transition(ctx context.Context, p *models.Proposal, to models.ProposalStatus, meta store.TransitionMeta) *models.Proposal {
	updated, err := r.store.Transition(ctx, p.ID, to, meta)
	if err != nil {
		r.log.Warn("transition failed", "id", p.ID, "to", to, "error", err)
		return nil
	}
	return updated
}
