package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/models"
)

// LogUpdate carries an execution status report for an existing log entry.
type LogUpdate struct {
	ExecutionStatus string
	StatusCode      int
	StatusCategory  models.StatusCategory
	Message         string
	Details         map[string]any
}

// InsertLog appends a workflow log entry. The id is generated by the caller.
func (s *Store) InsertLog(ctx context.Context, e models.WorkflowLogEntry) error {
	details, err := marshalJSON(e.Details)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return err
	}
	now := e.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_logs (id, workflow_name, status_code, status_category, execution_status, message, details, metadata, user_id, brand_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, e.ID, e.WorkflowName, e.StatusCode, string(e.StatusCategory), e.ExecutionStatus, e.Message, details, meta, e.UserID, e.BrandID, now)
	return mapDBError(err, "workflow log")
}

// GetLog fetches a workflow log entry by id.
func (s *Store) GetLog(ctx context.Context, id string) (models.WorkflowLogEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_name, status_code, status_category, execution_status, message, details, metadata, user_id, brand_id, created_at, updated_at
		FROM workflow_logs WHERE id = $1
	`, id)

	var e models.WorkflowLogEntry
	var category string
	var details, meta []byte
	var user, brand pgtype.Text
	if err := row.Scan(&e.ID, &e.WorkflowName, &e.StatusCode, &category, &e.ExecutionStatus, &e.Message, &details, &meta, &user, &brand, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return models.WorkflowLogEntry{}, mapDBError(err, "workflow log")
	}
	e.StatusCategory = models.StatusCategory(category)
	e.UserID = textPtr(user)
	e.BrandID = textPtr(brand)
	var err error
	if e.Details, err = unmarshalMap(details); err != nil {
		return models.WorkflowLogEntry{}, err
	}
	if e.Metadata, err = unmarshalMap(meta); err != nil {
		return models.WorkflowLogEntry{}, err
	}
	return e, nil
}

// UpdateLogExecution records the worker's execution report on an entry.
// The submission path never calls this; only worker callbacks do.
func (s *Store) UpdateLogExecution(ctx context.Context, id string, u LogUpdate) error {
	details, err := marshalPatch(u.Details)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_logs
		SET execution_status = $2,
		    status_code = $3,
		    status_category = $4,
		    message = $5,
		    details = COALESCE($6, details),
		    updated_at = NOW()
		WHERE id = $1
	`, id, u.ExecutionStatus, u.StatusCode, string(u.StatusCategory), u.Message, details)
	if err != nil {
		return mapDBError(err, "workflow log")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("workflow log not found")
	}
	return nil
}
