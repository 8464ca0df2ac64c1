package devworker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/objectstore"
	"brand-asset-orchestrator/internal/telemetry"
	"brand-asset-orchestrator/internal/webhook"
)

// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
var ErrQueueFull = errors.New("devworker queue is full")

// Reporter delivers results back to the API.
type Reporter interface {
	Report(ctx context.Context, cb webhook.Callback) error
}

// Result is what a handler produces for one job.
type Result struct {
	ResultURL   *string
	ResultItems []string
	Result      map[string]any
}

// Handler executes one job of a given kind.
type Handler func(ctx context.Context, p webhook.Payload) (Result, error)

// Options groups dependencies for Worker.
type Options struct {
	Objects  objectstore.Store // Required
	Reporter Reporter          // Required

	Concurrency      int
	QueueSize        int
	MaxAttempts      int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	Delay            time.Duration // simulated processing time
	DownloadTimeout  time.Duration
	MaxDownloadBytes int64
	Logger           *logger.Logger
}

// Worker is a reference implementation of the external worker. It accepts
// webhook payloads, processes them in the background and reports through
// the API callback.
type Worker struct {
	objects     objectstore.Store
	reporter    Reporter
	httpClient  *http.Client
	concurrency int
	maxAttempts int
	backoffInit time.Duration
	backoffMax  time.Duration
	delay       time.Duration
	maxDownload int64
	queue       chan webhook.Payload
	handlers    map[models.JobKind]Handler
	log         *logger.Logger
}

// New constructs a Worker with the built-in handlers registered.
func New(opts Options) (*Worker, error) {
	if opts.Objects == nil || opts.Reporter == nil {
		return nil, errors.New("devworker requires objects and reporter")
	}
	timeout := opts.DownloadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	w := &Worker{
		objects:     opts.Objects,
		reporter:    opts.Reporter,
		httpClient:  &http.Client{Timeout: timeout},
		concurrency: opts.Concurrency,
		maxAttempts: opts.MaxAttempts,
		backoffInit: opts.BackoffInitial,
		backoffMax:  opts.BackoffMax,
		delay:       opts.Delay,
		maxDownload: opts.MaxDownloadBytes,
		handlers:    make(map[models.JobKind]Handler),
		log:         logger.OrNop(opts.Logger).With("component", "devworker"),
	}
	if w.concurrency <= 0 {
		w.concurrency = 2
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.backoffInit <= 0 {
		w.backoffInit = 500 * time.Millisecond
	}
	if w.backoffMax <= 0 {
		w.backoffMax = 10 * time.Second
	}
	if w.maxDownload <= 0 {
		w.maxDownload = 25 << 20
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 64
	}
	w.queue = make(chan webhook.Payload, size)

	w.RegisterHandler(models.KindGeneration, w.handleGeneration)
	w.RegisterHandler(models.KindSegmentation, w.handleSegmentation)
	w.RegisterHandler(models.KindQualityCheck, w.handleQualityCheck)
	w.RegisterHandler(models.KindCanvasLayer, w.handleCanvasLayer)
	return w, nil
}

// RegisterHandler binds a handler to a job kind, replacing any existing one.
func (w *Worker) RegisterHandler(kind models.JobKind, h Handler) {
	if kind == "" || h == nil {
		return
	}
	w.handlers[kind] = h
}

// Enqueue accepts a payload without blocking.
func (w *Worker) Enqueue(p webhook.Payload) error {
	select {
	case w.queue <- p:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes queued payloads until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p := <-w.queue:
					w.process(ctx, p)
				}
			}
		}()
	}
	w.log.Info("devworker started", "concurrency", w.concurrency, "max_attempts", w.maxAttempts)
	wg.Wait()
	return nil
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...any) error {
	return permanentError{err: fmt.Errorf(format, args...)}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func (w *Worker) process(ctx context.Context, p webhook.Payload) {
	log := w.log.With("kind", p.Type, "job_id", p.JobID, "log_id", p.LogID)
	base := webhook.Callback{Type: p.Type, JobID: p.JobID, LogID: p.LogID}

	running := base
	running.ExecutionStatus = models.ExecutionRunning
	running.Status = "processing"
	if err := w.reporter.Report(ctx, running); err != nil {
		log.Warn("report running failed", "error", err)
	}

	if w.delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.delay):
		}
	}

	res, err := w.runJob(ctx, p)
	final := base
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("job failed", "error", err)
		telemetry.DevWorkerJobs.WithLabelValues(string(p.Type), "failed").Inc()
		final.ExecutionStatus = models.ExecutionError
		final.Message = err.Error()
		final.Details = map[string]any{"error": err.Error()}
	} else {
		telemetry.DevWorkerJobs.WithLabelValues(string(p.Type), "succeeded").Inc()
		final.ExecutionStatus = models.ExecutionSucceeded
		final.ResultURL = res.ResultURL
		final.ResultItems = res.ResultItems
		final.Result = res.Result
		final.Message = "Processing completed"
	}

	for attempt := 1; ; attempt++ {
		err := w.reporter.Report(ctx, final)
		if err == nil {
			log.Info("job reported", "execution_status", final.ExecutionStatus)
			return
		}
		if attempt >= w.maxAttempts {
			log.Error("giving up reporting result", "error", err)
			return
		}
		if !w.sleep(ctx, backoffWithJitter(w.backoffInit, w.backoffMax, attempt)) {
			return
		}
	}
}

// runJob executes the handler for p, retrying transient failures.
func (w *Worker) runJob(ctx context.Context, p webhook.Payload) (Result, error) {
	handler, ok := w.handlers[p.Type]
	if !ok {
		return Result{}, fmt.Errorf("no handler registered for type %q", p.Type)
	}
	for attempt := 1; ; attempt++ {
		res, err := handler(ctx, p)
		if err == nil {
			return res, nil
		}
		if isPermanent(err) || attempt >= w.maxAttempts {
			return Result{}, err
		}
		w.log.Debug("retrying job", "job_id", p.JobID, "attempt", attempt, "error", err)
		if !w.sleep(ctx, backoffWithJitter(w.backoffInit, w.backoffMax, attempt)) {
			return Result{}, ctx.Err()
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
