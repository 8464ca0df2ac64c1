package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/store"
	"brand-asset-orchestrator/internal/telemetry"
	"brand-asset-orchestrator/internal/webhook"
)

// handleWorkerCallback writes the worker's result into the job record and
// then its execution report into the workflow log.
func (s *Server) handleWorkerCallback(w http.ResponseWriter, r *http.Request) {
	if s.callbackToken == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
		return
	}
	got := r.Header.Get(webhook.TokenHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.callbackToken)) != 1 {
		s.writeError(w, r, apperr.Unauthorized("Unauthorized"))
		return
	}

	var req webhook.Callback
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	kind, ok := models.ParseKind(string(req.Type))
	if !ok || strings.TrimSpace(req.JobID) == "" {
		s.writeError(w, r, apperr.Client("type and job_id are required"))
		return
	}
	if strings.TrimSpace(req.Status) == "" && strings.TrimSpace(req.ExecutionStatus) == "" {
		s.writeError(w, r, apperr.Client("status or execution_status is required"))
		return
	}
	policy, _ := models.PolicyFor(kind)

	execOutcome := models.NormalizeExecution(req.ExecutionStatus)
	status := strings.TrimSpace(req.Status)
	if status == "" {
		switch execOutcome {
		case models.OutcomeSucceeded:
			status = policy.SuccessStatuses[0]
		case models.OutcomeFailed:
			status = policy.DispatchFailedStatus
		default:
			status = models.StatusGenerating
		}
	}

	err := s.store.CompleteJob(r.Context(), kind, req.JobID, store.JobResult{
		Status:      status,
		ResultURL:   req.ResultURL,
		ResultItems: req.ResultItems,
		Result:      req.Result,
	})
	if err != nil {
		telemetry.WorkerCallbacks.WithLabelValues(string(kind), "error").Inc()
		s.writeError(w, r, err)
		return
	}

	if req.LogID != "" && req.ExecutionStatus != "" {
		update := store.LogUpdate{
			ExecutionStatus: req.ExecutionStatus,
			StatusCode:      200,
			StatusCategory:  models.CategorySuccess,
			Message:         req.Message,
			Details:         req.Details,
		}
		switch execOutcome {
		case models.OutcomeFailed:
			update.StatusCode = 500
			update.StatusCategory = models.CategoryAPIError
		case models.OutcomePending, models.OutcomeRunning:
			update.StatusCode = 202
		}
		if err := s.store.UpdateLogExecution(r.Context(), req.LogID, update); err != nil {
			telemetry.WorkerCallbacks.WithLabelValues(string(kind), "error").Inc()
			s.writeError(w, r, err)
			return
		}
	}

	telemetry.WorkerCallbacks.WithLabelValues(string(kind), strings.ToLower(string(policy.NormalizeStatus(status)))).Inc()
	s.log.Info("worker callback applied", "kind", kind, "job_id", req.JobID, "status", status, "execution_status", req.ExecutionStatus)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
