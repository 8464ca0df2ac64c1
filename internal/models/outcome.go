package models

import "strings"

// Outcome is the normalized status vocabulary shared by job records and
// workflow log entries. External strings are mapped onto it where they are read.
type Outcome string

const (
	OutcomePending   Outcome = "PENDING"
	OutcomeRunning   Outcome = "RUNNING"
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
)

// Terminal reports whether no further transition is expected.
func (o Outcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// NormalizeExecution maps a workflow log execution_status onto an Outcome.
// Only the success sentinel counts as success; any value that is not a
// pending or running marker is an error report.
func NormalizeExecution(status string) Outcome {
	s := strings.ToUpper(strings.TrimSpace(status))
	switch s {
	case "", ExecutionPending, "QUEUED":
		return OutcomePending
	case ExecutionRunning, "PROCESSING", "IN_PROGRESS":
		return OutcomeRunning
	case ExecutionSucceeded:
		return OutcomeSucceeded
	default:
		return OutcomeFailed
	}
}
