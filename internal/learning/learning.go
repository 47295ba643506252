// Package learning is the outcome-feedback sink. It consumes proposal
// outcome signals and maintains per-reviewer score counters. Failures
// here never affect proposal state.
package learning

import (
	"context"
	"log/slog"
	"time"

	"github.com/sidellis/mend/internal/models"
	"github.com/sidellis/mend/internal/store"
)

// Signal identifies the kind of outcome being reported.
type Signal string

const (
	SignalApproved       Signal = "approved"
	SignalRejected       Signal = "rejected"
	SignalTestPassed     Signal = "test-passed"
	SignalRejectedByTest Signal = "rejected-by-test"
	SignalApplied        Signal = "applied"
)

// Sink consumes proposal outcome signals for a reviewer.
type Sink interface {
	ReportOutcome(ctx context.Context, reviewer string, signal Signal, detail string)
}

// NopSink discards all outcomes.
type NopSink struct{}

func (NopSink) ReportOutcome(context.Context, string, Signal, string) {}

// StoreSink persists outcome counters per reviewer and recomputes the
// weighted score on every report.
type StoreSink struct {
	store store.Store
	log   *slog.Logger
}

// NewStoreSink creates a sink backed by the given store.
func NewStoreSink(s store.Store, log *slog.Logger) *StoreSink {
	if log == nil {
		log = slog.Default()
	}
	return &StoreSink{store: s, log: log}
}

// ReportOutcome updates the reviewer's counters. Errors are logged and
// swallowed; the caller's proposal state must not depend on scoring.
func (s *StoreSink) ReportOutcome(ctx context.Context, reviewer string, signal Signal, detail string) {
	score, err := s.store.GetReviewerScore(ctx, reviewer)
	if err != nil {
		score = &models.ReviewerScore{Reviewer: reviewer}
	}

	switch signal {
	case SignalApproved:
		score.Approvals++
	case SignalRejected:
		score.Rejections++
	case SignalTestPassed:
		score.TestPasses++
	case SignalRejectedByTest:
		score.TestFailures++
	case SignalApplied:
		score.Applied++
	default:
		s.log.Warn("unknown learning signal", "reviewer", reviewer, "signal", signal)
		return
	}

	score.Score = computeScore(score)
	score.UpdatedAt = time.Now().UTC()

	if err := s.store.UpsertReviewerScore(ctx, score); err != nil {
		s.log.Warn("failed to persist reviewer score", "reviewer", reviewer, "error", err)
	}
}

// computeScore folds the counters into a 0-100 score: approval rate
// (40 pts), verification pass rate (40 pts), and applied volume (20 pts,
// saturating at 10 applied changes).
func computeScore(sc *models.ReviewerScore) int {
	total := 0

	if decided := sc.Approvals + sc.Rejections; decided > 0 {
		total += 40 * sc.Approvals / decided
	} else {
		total += 20 // no feedback yet, neutral
	}

	if tested := sc.TestPasses + sc.TestFailures; tested > 0 {
		total += 40 * sc.TestPasses / tested
	} else {
		total += 20
	}

	applied := sc.Applied
	if applied > 10 {
		applied = 10
	}
	total += 2 * applied

	return total
}
