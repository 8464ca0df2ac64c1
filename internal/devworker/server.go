package devworker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/webhook"
)

// Router exposes the webhook endpoint the API dispatches to. Every kind can
// share POST /webhook or use POST /webhook/{kind}.
func (w *Worker) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/webhook", w.handleWebhook)
	r.Post("/webhook/{kind}", w.handleWebhook)
	return r
}

func (w *Worker) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	var p webhook.Payload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&p); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if slug := chi.URLParam(r, "kind"); slug != "" && p.Type == "" {
		if kind, ok := models.ParseKind(slug); ok {
			p.Type = kind
		}
	}
	if _, ok := models.PolicyFor(p.Type); !ok {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "unknown type"})
		return
	}
	if strings.TrimSpace(p.JobID) == "" || strings.TrimSpace(p.LogID) == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "job_id and log_id are required"})
		return
	}

	if err := w.Enqueue(p); err != nil {
		if errors.Is(err, ErrQueueFull) {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}
	writeJSON(rw, http.StatusAccepted, map[string]any{"accepted": true, "job_id": p.JobID})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
