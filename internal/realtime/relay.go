package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/telemetry"
)

// ChangeSource streams job record changes until ctx ends.
type ChangeSource interface {
	ListenChanges(ctx context.Context, fn func(models.JobChange)) error
}

// Publisher forwards one change to subscribers.
type Publisher interface {
	Publish(ctx context.Context, change models.JobChange) error
}

// RelayOptions configures a Relay.
type RelayOptions struct {
	Source    ChangeSource      // Required
	Publisher Publisher         // Required
	Locker    *redislock.Client // Required
	LockKey   string
	LockTTL   time.Duration
	Retry     time.Duration
	Logger    *logger.Logger
}

// Relay moves Postgres change notifications onto the Redis bus. Only the
// replica holding the lock relays, so each change is published once.
type Relay struct {
	source    ChangeSource
	publisher Publisher
	locker    *redislock.Client
	key       string
	ttl       time.Duration
	retry     time.Duration
	log       *logger.Logger
}

// NewRelay constructs a Relay.
func NewRelay(opts RelayOptions) (*Relay, error) {
	if opts.Source == nil || opts.Publisher == nil || opts.Locker == nil {
		return nil, errors.New("relay requires source, publisher and locker")
	}
	r := &Relay{
		source:    opts.Source,
		publisher: opts.Publisher,
		locker:    opts.Locker,
		key:       opts.LockKey,
		ttl:       opts.LockTTL,
		retry:     opts.Retry,
		log:       logger.OrNop(opts.Logger).With("component", "realtime_relay"),
	}
	if r.key == "" {
		r.key = "lock:realtime-relay"
	}
	if r.ttl <= 0 {
		r.ttl = 15 * time.Second
	}
	if r.retry <= 0 {
		r.retry = 5 * time.Second
	}
	return r, nil
}

// Run competes for leadership and relays while leader. It returns nil when
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		lock, err := r.locker.Obtain(ctx, r.key, r.ttl, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			r.log.Debug("relay lock held elsewhere")
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("obtain relay lock failed", "error", err)
		default:
			r.lead(ctx, lock)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.retry):
		}
	}
}

// lead relays until ctx ends, the source fails, or the lock is lost.
func (r *Relay) lead(ctx context.Context, lock *redislock.Lock) {
	r.log.Info("relay leadership acquired")
	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.Warn("release relay lock failed", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(r.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-leaderCtx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(leaderCtx, r.ttl, nil); err != nil {
					r.log.Warn("relay lock lost", "error", err)
					cancel()
					return
				}
			}
		}
	}()

	err := r.source.ListenChanges(leaderCtx, func(change models.JobChange) {
		if err := r.publisher.Publish(leaderCtx, change); err != nil {
			r.log.Warn("publish change failed", "kind", change.Kind, "job_id", change.ID, "error", err)
			return
		}
		telemetry.RealtimeRelayed.Inc()
	})
	if err != nil && leaderCtx.Err() == nil {
		r.log.Error("change listener stopped", "error", err)
	}
}
