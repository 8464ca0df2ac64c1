package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/objectstore"
	"brand-asset-orchestrator/internal/telemetry"
	"brand-asset-orchestrator/internal/webhook"
)

// JobStore persists job records and workflow log entries.
type JobStore interface {
	InsertJob(ctx context.Context, job models.JobRecord) error
	UpdateJobStatus(ctx context.Context, kind models.JobKind, id, status string) error
	InsertLog(ctx context.Context, entry models.WorkflowLogEntry) error
}

// BrandStore answers the brand fallback lookups.
type BrandStore interface {
	ActiveBrandID(ctx context.Context, userID string) (string, bool, error)
	OwnedBrandID(ctx context.Context, userID string) (string, bool, error)
	AnyBrandID(ctx context.Context) (string, bool, error)
}

// Dispatcher hands a job to the external worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, url string, payload webhook.Payload) error
}

// Options groups dependencies for Service.
type Options struct {
	Jobs       JobStore          // Required
	Brands     BrandStore        // Required
	Objects    objectstore.Store // Required for upload-carrying requests
	Dispatcher Dispatcher        // Required
	// Routes maps each job kind to its webhook endpoint. A missing or empty
	// entry is reported per submission as a configuration error.
	Routes         map[models.JobKind]string
	MaxUploadBytes int64
	Logger         *logger.Logger
	Now            func() time.Time
	NewID          func() string
}

// Service records, correlates and dispatches jobs. It never waits for the
// worker to finish; completion is observed separately.
type Service struct {
	jobs       JobStore
	brands     BrandStore
	objects    objectstore.Store
	dispatcher Dispatcher
	routes     map[models.JobKind]string
	maxUpload  int64
	log        *logger.Logger
	now        func() time.Time
	newID      func() string
}

// Submission is returned once the worker accepted a job.
type Submission struct {
	Kind     models.JobKind `json:"kind"`
	JobID    string         `json:"job_id"`
	LogID    string         `json:"log_id"`
	BrandID  *string        `json:"brand_id,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
}

// New constructs a Service.
func New(opts Options) (*Service, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Brands == nil {
		return nil, errors.New("brand store is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	routes := make(map[models.JobKind]string, len(opts.Routes))
	for k, v := range opts.Routes {
		routes[k] = strings.TrimSpace(v)
	}
	s := &Service{
		jobs:       opts.Jobs,
		brands:     opts.Brands,
		objects:    opts.Objects,
		dispatcher: opts.Dispatcher,
		routes:     routes,
		maxUpload:  opts.MaxUploadBytes,
		log:        logger.OrNop(opts.Logger).With("component", "submit"),
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// plan is a validated, kind-agnostic description of one submission.
type plan struct {
	kind         models.JobKind
	userID       string
	brandID      string
	requireBrand bool
	upload       *Upload
	uploadInfo   imageInfo
	imageURL     string
	params       map[string]any
	payload      webhook.Payload
	correlation  map[string]any
}

// SubmitGeneration validates and dispatches an image generation job.
func (s *Service) SubmitGeneration(ctx context.Context, req GenerationRequest) (Submission, error) {
	return s.guard(models.KindGeneration, func() (Submission, error) {
		if err := requireUser(req.UserID); err != nil {
			return Submission{}, err
		}
		req.Prompt = strings.TrimSpace(req.Prompt)
		if err := validateStruct(req); err != nil {
			return Submission{}, err
		}
		return s.run(ctx, &plan{
			kind:         models.KindGeneration,
			userID:       req.UserID,
			brandID:      strings.TrimSpace(req.BrandID),
			requireBrand: true,
			params:       map[string]any{"prompt": req.Prompt},
			payload:      webhook.Payload{Prompt: req.Prompt},
		})
	})
}

// SubmitSegmentation validates and dispatches a segmentation job.
func (s *Service) SubmitSegmentation(ctx context.Context, req SegmentationRequest) (Submission, error) {
	return s.guard(models.KindSegmentation, func() (Submission, error) {
		if err := requireUser(req.UserID); err != nil {
			return Submission{}, err
		}
		if err := validateStruct(req); err != nil {
			return Submission{}, err
		}
		p := &plan{
			kind:     models.KindSegmentation,
			userID:   req.UserID,
			brandID:  strings.TrimSpace(req.BrandID),
			imageURL: req.ImageURL,
			params:   map[string]any{"segment_count": req.SegmentCount},
			payload:  webhook.Payload{SegmentCount: req.SegmentCount},
		}
		if err := s.attachUpload(p, req.Image); err != nil {
			return Submission{}, err
		}
		return s.run(ctx, p)
	})
}

// SubmitQualityCheck validates and dispatches a compliance check job.
func (s *Service) SubmitQualityCheck(ctx context.Context, req QualityCheckRequest) (Submission, error) {
	return s.guard(models.KindQualityCheck, func() (Submission, error) {
		if err := requireUser(req.UserID); err != nil {
			return Submission{}, err
		}
		if err := validateStruct(req); err != nil {
			return Submission{}, err
		}
		p := &plan{
			kind:     models.KindQualityCheck,
			userID:   req.UserID,
			brandID:  strings.TrimSpace(req.BrandID),
			imageURL: req.ImageURL,
			params:   map[string]any{},
		}
		if err := s.attachUpload(p, req.Image); err != nil {
			return Submission{}, err
		}
		return s.run(ctx, p)
	})
}

// SubmitCanvasLayer validates and dispatches a canvas layer job.
func (s *Service) SubmitCanvasLayer(ctx context.Context, req CanvasLayerRequest) (Submission, error) {
	return s.guard(models.KindCanvasLayer, func() (Submission, error) {
		if err := requireUser(req.UserID); err != nil {
			return Submission{}, err
		}
		if err := validateStruct(req); err != nil {
			return Submission{}, err
		}
		if !req.Rectangle.Valid() {
			return Submission{}, apperr.Client("Invalid canvas rectangle")
		}
		layerType := strings.TrimSpace(req.LayerType)
		if layerType == "" {
			layerType = "text"
		}
		meta := &webhook.CanvasMetadata{Type: layerType, Rectangle: req.Rectangle, OriginalURL: req.OriginalURL}
		return s.run(ctx, &plan{
			kind:    models.KindCanvasLayer,
			userID:  req.UserID,
			brandID: strings.TrimSpace(req.BrandID),
			params: map[string]any{
				"text_layer":   req.TextLayer,
				"type":         layerType,
				"rectangle":    req.Rectangle,
				"original_url": req.OriginalURL,
			},
			payload:     webhook.Payload{TextLayer: req.TextLayer, Metadata: meta},
			correlation: map[string]any{"rectangle": req.Rectangle},
		})
	})
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperr.Unauthorized("Unauthorized")
	}
	return nil
}

func (s *Service) attachUpload(p *plan, u *Upload) error {
	if u == nil {
		return nil
	}
	info, err := inspectUpload(u, s.maxUpload)
	if err != nil {
		return err
	}
	p.upload = u
	p.uploadInfo = info
	p.params["width"] = info.Width
	p.params["height"] = info.Height
	return nil
}

// guard converts panics into a generic failure and records the outcome.
func (s *Service) guard(kind models.JobKind, fn func() (Submission, error)) (sub Submission, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("submission panicked", "kind", kind, "panic", r)
			sub = Submission{}
			err = apperr.Internal("An unexpected error occurred", fmt.Errorf("panic: %v", r))
		}
		result := "accepted"
		if err != nil {
			result = string(apperr.KindOf(err))
		}
		telemetry.Submissions.WithLabelValues(string(kind), result).Inc()
	}()
	return fn()
}

// run performs the side-effecting steps strictly in order: upload, brand
// resolution, job insert, initiating log insert, config check, dispatch.
// There is no transaction across them; failures after the job insert are
// compensated by flipping the record to the kind's failure marker.
func (s *Service) run(ctx context.Context, p *plan) (Submission, error) {
	policy, ok := models.PolicyFor(p.kind)
	if !ok {
		return Submission{}, apperr.Clientf("unknown job kind %q", p.kind)
	}
	log := s.log.With("kind", p.kind, "user_id", p.userID)

	if p.upload != nil {
		url, err := s.storeUpload(ctx, p)
		if err != nil {
			log.Error("upload failed", "error", err)
			return Submission{}, apperr.Storage("Failed to upload image", err)
		}
		p.imageURL = url
	}
	if p.imageURL != "" {
		p.params["image_url"] = p.imageURL
		p.payload.ImageURL = p.imageURL
	}

	brandID := s.resolveBrand(ctx, log, p.userID, p.brandID)
	if brandID == nil && p.requireBrand {
		return Submission{}, apperr.Client("No brand selected")
	}

	jobID, logID := s.newID(), s.newID()
	now := s.now().UTC()
	job := models.JobRecord{
		ID:        jobID,
		Kind:      p.kind,
		UserID:    p.userID,
		BrandID:   brandID,
		Status:    models.StatusGenerating,
		Params:    p.params,
		Metadata:  map[string]any{"log_id": logID},
		CreatedAt: now,
	}
	if err := s.jobs.InsertJob(ctx, job); err != nil {
		log.Error("insert job failed", "job_id", jobID, "error", err)
		s.appendLog(ctx, log, errorEntry(policy, p, brandID, jobID, models.CategoryDBError, 500,
			"Failed to create job record", map[string]any{"stage": "insert_job"}))
		if apperr.Is(err, apperr.KindClient) {
			return Submission{}, err
		}
		return Submission{}, apperr.Persistence("Failed to create job", err)
	}

	correlation := map[string]any{"job_id": jobID, policy.IDKey: jobID, "kind": string(p.kind)}
	for k, v := range p.correlation {
		correlation[k] = v
	}
	initiating := models.WorkflowLogEntry{
		ID:              logID,
		WorkflowName:    policy.WorkflowName,
		StatusCode:      202,
		StatusCategory:  models.CategorySuccess,
		ExecutionStatus: models.ExecutionPending,
		Message:         "Job submitted",
		Metadata:        correlation,
		UserID:          &p.userID,
		BrandID:         brandID,
		CreatedAt:       now,
	}
	if err := s.jobs.InsertLog(ctx, initiating); err != nil {
		log.Error("insert workflow log failed", "job_id", jobID, "error", err)
		s.markJob(ctx, log, p.kind, jobID, policy.DispatchFailedStatus)
		return Submission{}, apperr.Persistence("Failed to create job", err)
	}

	url := s.routes[p.kind]
	if url == "" {
		log.Error("webhook url not configured", "job_id", jobID)
		s.appendLog(ctx, log, errorEntry(policy, p, brandID, jobID, models.CategoryConfigError, 500,
			"Webhook URL is not configured", map[string]any{"initiating_log_id": logID}))
		s.markJob(ctx, log, p.kind, jobID, policy.ConfigFailedStatus)
		return Submission{}, apperr.Config("Processing is not configured: missing webhook URL")
	}

	payload := p.payload
	payload.SetJobID(p.kind, jobID)
	payload.LogID = logID
	payload.UserID = p.userID
	if brandID != nil {
		payload.BrandID = *brandID
	}

	if err := s.dispatcher.Dispatch(ctx, url, payload); err != nil {
		telemetry.DispatchFailures.WithLabelValues(string(p.kind)).Inc()
		log.Error("dispatch failed", "job_id", jobID, "log_id", logID, "error", err)
		s.markJob(ctx, log, p.kind, jobID, policy.DispatchFailedStatus)
		s.appendLog(ctx, log, errorEntry(policy, p, brandID, jobID, models.CategoryAPIError, webhook.StatusCodeOf(err),
			"Failed to trigger processing", map[string]any{"initiating_log_id": logID, "error": err.Error()}))
		return Submission{}, apperr.Dispatch("Failed to trigger processing", err)
	}

	log.Info("job dispatched", "job_id", jobID, "log_id", logID)
	return Submission{Kind: p.kind, JobID: jobID, LogID: logID, BrandID: brandID, ImageURL: p.imageURL}, nil
}

func (s *Service) storeUpload(ctx context.Context, p *plan) (string, error) {
	if s.objects == nil {
		return "", errors.New("object store not configured")
	}
	key := objectstore.UploadKey(p.userID, p.upload.Filename, s.now())
	return s.objects.Put(ctx, key, p.upload.Data, p.uploadInfo.ContentType)
}

// resolveBrand walks explicit → profile → owned → any. Lookup failures are
// logged and treated as "not found".
func (s *Service) resolveBrand(ctx context.Context, log *logger.Logger, userID, explicit string) *string {
	if explicit != "" {
		return &explicit
	}
	lookups := []struct {
		name string
		fn   func() (string, bool, error)
	}{
		{"profile", func() (string, bool, error) { return s.brands.ActiveBrandID(ctx, userID) }},
		{"owned", func() (string, bool, error) { return s.brands.OwnedBrandID(ctx, userID) }},
		{"any", func() (string, bool, error) { return s.brands.AnyBrandID(ctx) }},
	}
	for _, l := range lookups {
		id, found, err := l.fn()
		if err != nil {
			log.Warn("brand lookup failed", "source", l.name, "error", err)
			continue
		}
		if found {
			return &id
		}
	}
	return nil
}

// markJob is the compensating write after a post-insert failure. Its own
// failure is only logged; the caller already reports an error.
func (s *Service) markJob(ctx context.Context, log *logger.Logger, kind models.JobKind, id, status string) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.jobs.UpdateJobStatus(ctx, kind, id, status); err != nil {
		log.Error("compensating status update failed", "job_id", id, "status", status, "error", err)
	}
}

func (s *Service) appendLog(ctx context.Context, log *logger.Logger, entry models.WorkflowLogEntry) {
	entry.ID = s.newID()
	entry.CreatedAt = s.now().UTC()
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.jobs.InsertLog(ctx, entry); err != nil {
		log.Error("insert error log failed", "category", entry.StatusCategory, "error", err)
	}
}

// compensationTimeout bounds writes that must outlive the request context.
const compensationTimeout = 5 * time.Second

// detached keeps ctx values but not its cancellation, so a caller that hangs
// up mid-dispatch still gets its job marked failed.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

func errorEntry(policy models.Policy, p *plan, brandID *string, jobID string, category models.StatusCategory, code int, msg string, details map[string]any) models.WorkflowLogEntry {
	userID := p.userID
	return models.WorkflowLogEntry{
		WorkflowName:    policy.WorkflowName,
		StatusCode:      code,
		StatusCategory:  category,
		ExecutionStatus: models.ExecutionError,
		Message:         msg,
		Details:         details,
		Metadata:        map[string]any{"job_id": jobID, policy.IDKey: jobID, "kind": string(p.kind)},
		UserID:          &userID,
		BrandID:         brandID,
	}
}
