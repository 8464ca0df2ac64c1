package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/models"
)

// Runs only when POSTGRES_TEST_DSN points at a disposable database.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	_, err = st.RunMigrations(ctx)
	require.NoError(t, err)
	return st
}

func TestIntegration_JobAndLogLifecycle(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()

	jobID := uuid.NewString()
	require.NoError(t, st.InsertJob(ctx, models.JobRecord{
		ID:     jobID,
		Kind:   models.KindSegmentation,
		UserID: "user-1",
		Status: models.StatusGenerating,
		Params: map[string]any{"segment_count": 4},
	}))

	logID := uuid.NewString()
	require.NoError(t, st.InsertLog(ctx, models.WorkflowLogEntry{
		ID:              logID,
		WorkflowName:    "image_segmentation",
		StatusCode:      202,
		StatusCategory:  models.CategorySuccess,
		ExecutionStatus: models.ExecutionPending,
		Metadata:        map[string]any{"job_id": jobID},
	}))

	job, err := st.GetJob(ctx, models.KindSegmentation, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, job.Status)
	assert.Empty(t, job.ResultItems)

	require.NoError(t, st.CompleteJob(ctx, models.KindSegmentation, jobID, JobResult{
		Status:      "COMPLETED",
		ResultItems: []string{"https://x/1.png", "https://x/2.png"},
	}))
	require.NoError(t, st.UpdateLogExecution(ctx, logID, LogUpdate{
		ExecutionStatus: models.ExecutionSucceeded,
		StatusCode:      200,
		StatusCategory:  models.CategorySuccess,
		Message:         "done",
	}))

	job, err = st.GetJob(ctx, models.KindSegmentation, jobID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", job.Status)
	assert.Len(t, job.ResultItems, 2)

	entry, err := st.GetLog(ctx, logID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, entry.ExecutionStatus)
	assert.Equal(t, jobID, entry.Metadata["job_id"])

	_, err = st.GetJob(ctx, models.KindSegmentation, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestIntegration_ListenChanges(t *testing.T) {
	st := newIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobID := uuid.NewString()
	require.NoError(t, st.InsertJob(ctx, models.JobRecord{ID: jobID, Kind: models.KindGeneration, UserID: "u", Status: models.StatusGenerating}))

	changes := make(chan models.JobChange, 4)
	go func() {
		_ = st.ListenChanges(ctx, func(c models.JobChange) { changes <- c })
	}()
	// Give LISTEN a moment to register before the update fires.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, st.UpdateJobStatus(ctx, models.KindGeneration, jobID, "failed"))

	select {
	case c := <-changes:
		assert.Equal(t, jobID, c.ID)
		assert.Equal(t, models.KindGeneration, c.Kind)
		assert.Equal(t, "failed", c.Status)
	case <-ctx.Done():
		t.Fatal("no change notification received")
	}
}

func TestIntegration_StatusOnlyUpdateKeepsResult(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()

	jobID := uuid.NewString()
	require.NoError(t, st.InsertJob(ctx, models.JobRecord{
		ID:     jobID,
		Kind:   models.KindQualityCheck,
		UserID: "user-1",
		Status: models.StatusGenerating,
	}))
	logID := uuid.NewString()
	require.NoError(t, st.InsertLog(ctx, models.WorkflowLogEntry{
		ID:              logID,
		WorkflowName:    "quality_check",
		StatusCode:      202,
		StatusCategory:  models.CategorySuccess,
		ExecutionStatus: models.ExecutionPending,
	}))

	require.NoError(t, st.CompleteJob(ctx, models.KindQualityCheck, jobID, JobResult{
		Status: "completed",
		Result: map[string]any{"score": 0.67},
	}))
	require.NoError(t, st.UpdateLogExecution(ctx, logID, LogUpdate{
		ExecutionStatus: models.ExecutionError,
		StatusCode:      500,
		StatusCategory:  models.CategoryAPIError,
		Details:         map[string]any{"error": "first"},
	}))

	require.NoError(t, st.CompleteJob(ctx, models.KindQualityCheck, jobID, JobResult{Status: "completed"}))
	require.NoError(t, st.UpdateLogExecution(ctx, logID, LogUpdate{
		ExecutionStatus: models.ExecutionSucceeded,
		StatusCode:      200,
		StatusCategory:  models.CategorySuccess,
	}))

	job, err := st.GetJob(ctx, models.KindQualityCheck, jobID)
	require.NoError(t, err)
	assert.Equal(t, 0.67, job.Result["score"])

	entry, err := st.GetLog(ctx, logID)
	require.NoError(t, err)
	assert.Equal(t, "first", entry.Details["error"])
}

func TestIntegration_MigrationsApplyOnce(t *testing.T) {
	st := newIntegrationStore(t)

	applied, err := st.RunMigrations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied, "ledger already holds every migration")
}
