package watch

import (
	"context"
	"errors"
	"time"

	"brand-asset-orchestrator/internal/apperr"
	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/telemetry"
)

// Reader is the pair of point lookups the watcher polls.
type Reader interface {
	GetJob(ctx context.Context, kind models.JobKind, id string) (models.JobRecord, error)
	GetLog(ctx context.Context, id string) (models.WorkflowLogEntry, error)
}

// Feed delivers push notifications when a job record changes.
type Feed interface {
	Subscribe(ctx context.Context, kind models.JobKind, id string) (Subscription, error)
}

// Subscription is an open change stream for one job record.
type Subscription interface {
	Events() <-chan models.JobChange
	Close() error
}

// Options configures a Watcher.
type Options struct {
	Reader Reader // Required
	// Feed is optional. Without it the watcher relies on polling alone.
	Feed     Feed
	Interval time.Duration
	// MaxPolls returns the poll bound for a kind; nil uses the policy default.
	MaxPolls func(models.JobKind) int
	Logger   *logger.Logger
}

// Watcher resolves submitted jobs into a terminal state.
type Watcher struct {
	reader   Reader
	feed     Feed
	interval time.Duration
	maxPolls func(models.JobKind) int
	log      *logger.Logger
}

// Target identifies the job being watched. LogID may be empty.
type Target struct {
	Kind  models.JobKind `json:"kind"`
	JobID string         `json:"job_id"`
	LogID string         `json:"log_id,omitempty"`
}

// Resolution is the result of one watch.
type Resolution struct {
	Target
	State       State          `json:"state"`
	ResultURL   string         `json:"result_url,omitempty"`
	ResultItems []string       `json:"result_items,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Message     string         `json:"message,omitempty"`
	Checks      int            `json:"checks"`
	Polls       int            `json:"polls"`
}

// New constructs a Watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Reader == nil {
		return nil, errors.New("reader is required")
	}
	w := &Watcher{
		reader:   opts.Reader,
		feed:     opts.Feed,
		interval: opts.Interval,
		maxPolls: opts.MaxPolls,
		log:      logger.OrNop(opts.Logger).With("component", "watch"),
	}
	if w.interval <= 0 {
		w.interval = 3 * time.Second
	}
	return w, nil
}

// Watch checks the job immediately, then re-checks on every poll tick and
// every change event until a terminal state is reached, the poll bound is
// exhausted, or ctx is cancelled. The ticker and the subscription are owned
// by this call and are released before it returns.
func (w *Watcher) Watch(ctx context.Context, t Target) (Resolution, error) {
	policy, ok := models.PolicyFor(t.Kind)
	if !ok {
		return Resolution{}, apperr.Clientf("unknown job kind %q", t.Kind)
	}
	if t.JobID == "" {
		return Resolution{}, apperr.Client("Job id is required")
	}
	maxPolls := policy.MaxPolls
	if w.maxPolls != nil {
		if n := w.maxPolls(t.Kind); n > 0 {
			maxPolls = n
		}
	}
	if maxPolls <= 0 {
		maxPolls = models.DefaultMaxPolls
	}

	log := w.log.With("kind", t.Kind, "job_id", t.JobID, "log_id", t.LogID)
	res := Resolution{Target: t, State: StateWatching}

	telemetry.ActiveWatches.Inc()
	defer func() {
		telemetry.ActiveWatches.Dec()
		if res.State.Terminal() {
			telemetry.WatchResolutions.WithLabelValues(string(t.Kind), string(res.State)).Inc()
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if w.check(ctx, log, policy, &res) {
		return res, nil
	}

	var events <-chan models.JobChange
	if w.feed != nil {
		sub, err := w.feed.Subscribe(ctx, t.Kind, t.JobID)
		if err != nil {
			log.Warn("realtime subscribe failed; polling only", "error", err)
		} else {
			defer func() {
				if err := sub.Close(); err != nil {
					log.Debug("close subscription", "error", err)
				}
			}()
			events = sub.Events()
			// An update may have landed between the first check and the subscription.
			if w.check(ctx, log, policy, &res) {
				return res, nil
			}
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case _, ok := <-events:
			if !ok {
				log.Debug("realtime feed closed; polling only")
				events = nil
				continue
			}
			if w.check(ctx, log, policy, &res) {
				return res, nil
			}
		case <-ticker.C:
			res.Polls++
			if w.check(ctx, log, policy, &res) {
				return res, nil
			}
			if res.Polls >= maxPolls {
				res.State = StateTimedOut
				res.Message = TimeoutMessage
				log.Info("watch timed out", "polls", res.Polls)
				return res, nil
			}
		}
	}
}

// check reads both rows and applies Evaluate. It reports whether res reached
// a terminal state. Read failures are inconclusive.
func (w *Watcher) check(ctx context.Context, log *logger.Logger, policy models.Policy, res *Resolution) bool {
	res.Checks++

	var jobPtr *models.JobRecord
	job, err := w.reader.GetJob(ctx, res.Kind, res.JobID)
	switch {
	case err == nil:
		jobPtr = &job
	case apperr.Is(err, apperr.KindNotFound):
		log.Debug("job record not visible yet")
	default:
		log.Warn("read job record failed", "error", err)
	}

	var logPtr *models.WorkflowLogEntry
	if res.LogID != "" {
		entry, err := w.reader.GetLog(ctx, res.LogID)
		switch {
		case err == nil:
			logPtr = &entry
		case apperr.Is(err, apperr.KindNotFound):
			log.Debug("workflow log not visible yet")
		default:
			log.Warn("read workflow log failed", "error", err)
		}
	}

	v := Evaluate(policy, jobPtr, logPtr)
	if !v.State.Terminal() {
		return false
	}
	res.State = v.State
	res.Message = v.Message
	if v.State == StateSucceeded && jobPtr != nil {
		if jobPtr.ResultURL != nil {
			res.ResultURL = *jobPtr.ResultURL
		}
		res.ResultItems = jobPtr.ResultItems
		res.Result = jobPtr.Result
	}
	log.Info("watch resolved", "state", res.State, "checks", res.Checks)
	return true
}
