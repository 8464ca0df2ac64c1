package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/models"
)

// JobResult is what the external worker writes back into a job record.
type JobResult struct {
	Status      string
	ResultURL   *string
	ResultItems []string
	Result      map[string]any
}

func tableFor(kind models.JobKind) (string, error) {
	p, ok := models.PolicyFor(kind)
	if !ok {
		return "", apperr.Clientf("unknown job kind %q", kind)
	}
	return p.Table, nil
}

// InsertJob stores a new job record. The id is generated by the caller.
func (s *Store) InsertJob(ctx context.Context, job models.JobRecord) error {
	table, err := tableFor(job.Kind)
	if err != nil {
		return err
	}
	params, err := marshalJSON(orEmpty(job.Params))
	if err != nil {
		return err
	}
	meta, err := marshalJSON(orEmpty(job.Metadata))
	if err != nil {
		return err
	}
	now := job.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+table+` (id, user_id, brand_id, status, params, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, job.ID, job.UserID, job.BrandID, job.Status, params, meta, now)
	return mapDBError(err, "job")
}

// GetJob fetches a job record by kind and id.
func (s *Store) GetJob(ctx context.Context, kind models.JobKind, id string) (models.JobRecord, error) {
	table, err := tableFor(kind)
	if err != nil {
		return models.JobRecord{}, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, brand_id, status, params, result_url, result_items, result, metadata, created_at, updated_at
		FROM `+table+` WHERE id = $1
	`, id)

	job := models.JobRecord{Kind: kind}
	var brand, resultURL pgtype.Text
	var params, items, result, meta []byte
	if err := row.Scan(&job.ID, &job.UserID, &brand, &job.Status, &params, &resultURL, &items, &result, &meta, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.JobRecord{}, mapDBError(err, "job")
	}
	job.BrandID = textPtr(brand)
	job.ResultURL = textPtr(resultURL)
	if job.Params, err = unmarshalMap(params); err != nil {
		return models.JobRecord{}, err
	}
	if job.Result, err = unmarshalMap(result); err != nil {
		return models.JobRecord{}, err
	}
	if job.Metadata, err = unmarshalMap(meta); err != nil {
		return models.JobRecord{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &job.ResultItems); err != nil {
			return models.JobRecord{}, fmt.Errorf("unmarshal result_items: %w", err)
		}
	}
	return job, nil
}

// UpdateJobStatus overwrites only the status column. The submission path
// uses it as a compensating write when dispatch fails.
func (s *Store) UpdateJobStatus(ctx context.Context, kind models.JobKind, id, status string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+table+` SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return mapDBError(err, "job")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("job not found")
	}
	return nil
}

// CompleteJob records a worker-supplied status and result payload.
func (s *Store) CompleteJob(ctx context.Context, kind models.JobKind, id string, res JobResult) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	var items []byte
	if res.ResultItems != nil {
		if items, err = marshalJSON(res.ResultItems); err != nil {
			return err
		}
	}
	result, err := marshalPatch(res.Result)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+table+`
		SET status = $2,
		    result_url = COALESCE($3, result_url),
		    result_items = COALESCE($4, result_items),
		    result = COALESCE($5, result),
		    updated_at = NOW()
		WHERE id = $1
	`, id, res.Status, res.ResultURL, items, result)
	if err != nil {
		return mapDBError(err, "job")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("job not found")
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
