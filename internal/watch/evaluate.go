package watch

import (
	"fmt"
	"strings"

	"brand-asset-orchestrator/internal/models"
)

// State is the reconciliation state of one watched job.
type State string

const (
	StateWatching  State = "WATCHING"
	StateSucceeded State = "RESOLVED_SUCCESS"
	StateFailed    State = "RESOLVED_FAILURE"
	StateTimedOut  State = "RESOLVED_TIMEOUT"
)

// Terminal reports whether the state ends observation.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

const (
	// FailureFallback is shown when the worker reported failure without a message.
	FailureFallback = "Processing failed"
	// TimeoutMessage is shown when no conclusive signal arrived in time.
	TimeoutMessage = "Processing timed out, check back later"
)

// Verdict is the outcome of a single check.
type Verdict struct {
	State   State
	Message string
}

// Evaluate applies the reconciliation rules to one snapshot. job or log may
// be nil when the row could not be read.
//
// Success requires both signals: the log's success sentinel and a populated
// result field. The job record's own success marker is only trusted on its
// own when no log entry is available to consult, so a worker that fills the
// job record but never moves its log out of PENDING or RUNNING ends in
// StateTimedOut. Watch without a LogID to rely on the job record alone.
func Evaluate(policy models.Policy, job *models.JobRecord, log *models.WorkflowLogEntry) Verdict {
	ready := job != nil && policy.ResultReady(*job)

	if log != nil {
		switch models.NormalizeExecution(log.ExecutionStatus) {
		case models.OutcomeSucceeded:
			if ready {
				return Verdict{State: StateSucceeded}
			}
		case models.OutcomeFailed:
			return Verdict{State: StateFailed, Message: logMessage(log)}
		}
	}

	if job == nil {
		return Verdict{State: StateWatching}
	}
	switch policy.NormalizeStatus(job.Status) {
	case models.OutcomeFailed:
		return Verdict{State: StateFailed, Message: jobMessage(job)}
	case models.OutcomeSucceeded:
		if ready && log == nil {
			return Verdict{State: StateSucceeded}
		}
	}
	return Verdict{State: StateWatching}
}

func logMessage(log *models.WorkflowLogEntry) string {
	if m := strings.TrimSpace(log.Message); m != "" {
		return m
	}
	if m := detailMessage(log.Details); m != "" {
		return m
	}
	return FailureFallback
}

func jobMessage(job *models.JobRecord) string {
	if m := detailMessage(job.Result); m != "" {
		return m
	}
	if m := detailMessage(job.Metadata); m != "" {
		return m
	}
	return FailureFallback
}

func detailMessage(m map[string]any) string {
	for _, key := range []string{"error", "message"} {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return ""
}
