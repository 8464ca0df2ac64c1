package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/auth"
	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/store"
	"brand-asset-orchestrator/internal/submit"
	"brand-asset-orchestrator/internal/telemetry"
	"brand-asset-orchestrator/internal/watch"
	"brand-asset-orchestrator/internal/webhook"
)

// Submitter runs the job submission protocol.
type Submitter interface {
	SubmitGeneration(ctx context.Context, req submit.GenerationRequest) (submit.Submission, error)
	SubmitSegmentation(ctx context.Context, req submit.SegmentationRequest) (submit.Submission, error)
	SubmitQualityCheck(ctx context.Context, req submit.QualityCheckRequest) (submit.Submission, error)
	SubmitCanvasLayer(ctx context.Context, req submit.CanvasLayerRequest) (submit.Submission, error)
}

// Store is the subset of persistence the HTTP surface reads and the worker
// callback writes.
type Store interface {
	GetJob(ctx context.Context, kind models.JobKind, id string) (models.JobRecord, error)
	GetLog(ctx context.Context, id string) (models.WorkflowLogEntry, error)
	CompleteJob(ctx context.Context, kind models.JobKind, id string, res store.JobResult) error
	UpdateLogExecution(ctx context.Context, id string, u store.LogUpdate) error
	Ping(ctx context.Context) error
}

// Watcher resolves a job server-side for the long-poll endpoint.
type Watcher interface {
	Watch(ctx context.Context, t watch.Target) (watch.Resolution, error)
}

// Middleware wraps a handler; used for the auth and rate limit layers.
type Middleware func(http.Handler) http.Handler

// Options groups dependencies for Server.
type Options struct {
	Submitter Submitter // Required
	Store     Store     // Required
	Watcher   Watcher   // Required
	Auth      Middleware
	Limiter   Middleware
	// CallbackToken guards /worker/callback. Empty disables the endpoint.
	CallbackToken  string
	ObjectDir      string
	MaxUploadBytes int64
	Logger         *logger.Logger
}

// Server wires HTTP handlers for the dashboard API.
type Server struct {
	submitter     Submitter
	store         Store
	watcher       Watcher
	auth          Middleware
	limiter       Middleware
	callbackToken string
	objectDir     string
	maxUpload     int64
	log           *logger.Logger
}

// New constructs the API server.
func New(opts Options) (*Server, error) {
	if opts.Submitter == nil || opts.Store == nil || opts.Watcher == nil {
		return nil, errors.New("api requires submitter, store and watcher")
	}
	s := &Server{
		submitter:     opts.Submitter,
		store:         opts.Store,
		watcher:       opts.Watcher,
		auth:          opts.Auth,
		limiter:       opts.Limiter,
		callbackToken: opts.CallbackToken,
		objectDir:     opts.ObjectDir,
		maxUpload:     opts.MaxUploadBytes,
		log:           logger.OrNop(opts.Logger).With("component", "api"),
	}
	if s.auth == nil {
		s.auth = passthrough
	}
	if s.limiter == nil {
		s.limiter = passthrough
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 10 << 20
	}
	return s, nil
}

func passthrough(next http.Handler) http.Handler { return next }

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserFrom(r.Context()) == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())
	if s.objectDir != "" {
		r.Handle("/objects/*", http.StripPrefix("/objects/", http.FileServer(http.Dir(s.objectDir))))
	}

	r.Post(webhook.CallbackPath, s.handleWorkerCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Use(requireUser)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter)
			r.Post("/jobs/generation", s.handleSubmitGeneration)
			r.Post("/jobs/segmentation", s.handleSubmitSegmentation)
			r.Post("/jobs/quality-check", s.handleSubmitQualityCheck)
			r.Post("/jobs/canvas-layer", s.handleSubmitCanvasLayer)
		})

		r.Get("/jobs/{kind}/{id}", s.handleGetJob)
		r.Get("/jobs/{kind}/{id}/watch", s.handleWatch)
		r.Get("/logs/{id}", s.handleGetLog)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeError renders err as the public failure body. Details stay in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := apperr.HTTPStatus(kind)
	if code >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "kind", kind, "error", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, code, errorBody{Error: apperr.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
