package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/auth"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/watch"
)

// ownedJob loads a job record visible to the caller. Rows owned by someone
// else are reported as missing.
func (s *Server) ownedJob(r *http.Request) (models.JobRecord, error) {
	kind, ok := models.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		return models.JobRecord{}, apperr.NotFound("Unknown job kind")
	}
	job, err := s.store.GetJob(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		return models.JobRecord{}, err
	}
	if job.UserID != auth.UserFrom(r.Context()) {
		return models.JobRecord{}, apperr.NotFound("job not found")
	}
	return job, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ownedLog loads a workflow log entry visible to the caller.
func (s *Server) ownedLog(r *http.Request, id string) (models.WorkflowLogEntry, error) {
	entry, err := s.store.GetLog(r.Context(), id)
	if err != nil {
		return models.WorkflowLogEntry{}, err
	}
	if entry.UserID == nil || *entry.UserID != auth.UserFrom(r.Context()) {
		return models.WorkflowLogEntry{}, apperr.NotFound("workflow log not found")
	}
	return entry, nil
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	entry, err := s.ownedLog(r, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type watchResponse struct {
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	Resolution watch.Resolution `json:"resolution"`
}

// handleWatch runs the reconciliation protocol server-side and answers once
// the job reaches a terminal state.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	job, err := s.ownedJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	linked, _ := job.Metadata["log_id"].(string)
	logID := r.URL.Query().Get("log_id")
	switch {
	case logID == "":
		logID = linked
	case logID != linked:
		// An explicit log must belong to the caller too.
		if _, err := s.ownedLog(r, logID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	res, err := s.watcher.Watch(r.Context(), watch.Target{Kind: job.Kind, JobID: job.ID, LogID: logID})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.writeError(w, r, err)
		return
	}

	switch res.State {
	case watch.StateSucceeded:
		writeJSON(w, http.StatusOK, watchResponse{Success: true, Resolution: res})
	case watch.StateTimedOut:
		writeJSON(w, apperr.HTTPStatus(apperr.KindTimeout), watchResponse{Error: res.Message, Resolution: res})
	default:
		writeJSON(w, http.StatusOK, watchResponse{Error: res.Message, Resolution: res})
	}
}
