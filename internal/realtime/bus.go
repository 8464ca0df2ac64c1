package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/models"
	"brand-asset-orchestrator/internal/watch"
)

// Bus fans job record changes out over Redis pub/sub, one channel per job.
type Bus struct {
	rdb    *redis.Client
	prefix string
	log    *logger.Logger
}

// NewBus constructs a Bus. An empty prefix defaults to "jobs:changes".
func NewBus(rdb *redis.Client, prefix string, log *logger.Logger) *Bus {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "jobs:changes"
	}
	return &Bus{rdb: rdb, prefix: prefix, log: logger.OrNop(log).With("component", "realtime_bus")}
}

// Channel returns the pub/sub channel for one job record.
func (b *Bus) Channel(kind models.JobKind, id string) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, kind, id)
}

// Publish sends change to the job's channel.
func (b *Bus) Publish(ctx context.Context, change models.JobChange) error {
	raw, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.Channel(change.Kind, change.ID), raw).Err()
}

// Subscribe opens a subscription to one job's channel. The returned
// subscription is live once Subscribe returns.
func (b *Bus) Subscribe(ctx context.Context, kind models.JobKind, id string) (watch.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, b.Channel(kind, id))
	// ensures subscription actually started
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &subscription{ps: ps, out: make(chan models.JobChange, 8), done: make(chan struct{})}
	go s.forward(b.log)
	return s, nil
}

type subscription struct {
	ps   *redis.PubSub
	out  chan models.JobChange
	done chan struct{}
	once sync.Once
}

func (s *subscription) Events() <-chan models.JobChange { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// forward decodes messages until the pub/sub is closed. Events are coalesced
// when the consumer is behind, since each one only triggers a re-check.
func (s *subscription) forward(log *logger.Logger) {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			var change models.JobChange
			if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
				log.Warn("bad realtime payload", "channel", m.Channel, "error", err)
				continue
			}
			select {
			case s.out <- change:
			case <-s.done:
				return
			default:
			}
		}
	}
}
