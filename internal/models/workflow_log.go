package models

import "time"

// StatusCategory classifies a workflow log entry.
type StatusCategory string

const (
	CategorySuccess     StatusCategory = "SUCCESS"
	CategoryAPIError    StatusCategory = "API_ERROR"
	CategoryDBError     StatusCategory = "DB_ERROR"
	CategoryClientError StatusCategory = "CLIENT_ERROR"
	CategoryConfigError StatusCategory = "CONFIG_ERROR"
)

// Execution status values as written into workflow_logs.execution_status.
// The worker reports success with the numeric success code rendered as a string.
const (
	ExecutionPending   = "PENDING"
	ExecutionRunning   = "RUNNING"
	ExecutionSucceeded = "200"
	ExecutionError     = "ERROR"
)

// WorkflowLogEntry is an append-only lifecycle record for one job. The
// initiating entry carries the correlation id handed to the worker.
type WorkflowLogEntry struct {
	ID              string         `json:"id"`
	WorkflowName    string         `json:"workflow_name"`
	StatusCode      int            `json:"status_code"`
	StatusCategory  StatusCategory `json:"status_category"`
	ExecutionStatus string         `json:"execution_status"`
	Message         string         `json:"message"`
	Details         map[string]any `json:"details,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	UserID          *string        `json:"user_id,omitempty"`
	BrandID         *string        `json:"brand_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
