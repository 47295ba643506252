package models

import "time"

// ProposalStatus represents the lifecycle state of a proposal.
type ProposalStatus string

const (
	StatusPending    ProposalStatus = "pending"
	StatusApproved   ProposalStatus = "approved"
	StatusTesting    ProposalStatus = "testing"
	StatusTestPassed ProposalStatus = "test-passed"
	StatusTestFailed ProposalStatus = "test-failed"
	StatusApplied    ProposalStatus = "applied"
	StatusRejected   ProposalStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s ProposalStatus) Terminal() bool {
	return s == StatusApplied || s == StatusRejected
}

// TestStatus records the outcome of the most recent verification run.
type TestStatus string

const (
	TestNotRun TestStatus = "not-run"
	TestPassed TestStatus = "passed"
	TestFailed TestStatus = "failed"
)

// Proposal is a candidate file-level code change produced by a reviewer.
// FilePath is relative to the mirror root and must never resolve outside it.
type Proposal struct {
	ID          string
	Reviewer    string
	FilePath    string
	CodeBefore  string
	CodeAfter   string
	Description string
	Status      ProposalStatus
	TestStatus  TestStatus
	TestOutput  string
	Result      string // change-request URL once applied
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransitionEntry is one audit record of a status change.
// Entries are append-only; history is never overwritten.
type TransitionEntry struct {
	ID         string
	ProposalID string
	From       ProposalStatus
	To         ProposalStatus
	Reason     string
	CreatedAt  time.Time
}
