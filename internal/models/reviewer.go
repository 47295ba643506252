package models

import "time"

// ReviewerScore holds per-reviewer outcome counters maintained by the
// learning sink. The weighted Score is recomputed on every update.
type ReviewerScore struct {
	Reviewer     string
	Approvals    int
	Rejections   int
	TestPasses   int
	TestFailures int
	Applied      int
	Score        int
	UpdatedAt    time.Time
}
