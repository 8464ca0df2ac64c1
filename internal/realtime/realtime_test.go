package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-asset-orchestrator/internal/models"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestBusChannel(t *testing.T) {
	b := NewBus(nil, "assets:feed:", nil)
	assert.Equal(t, "assets:feed:segmentation:seg-1", b.Channel(models.KindSegmentation, "seg-1"))
	assert.Equal(t, "jobs:changes:generation:x", NewBus(nil, "", nil).Channel(models.KindGeneration, "x"))
}

func TestBusDeliversOnlyToJobChannel(t *testing.T) {
	rdb := newRedis(t)
	bus := NewBus(rdb, "", nil)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, models.KindGeneration, "job-1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, models.JobChange{Kind: models.KindGeneration, ID: "job-2", Status: "generated"}))
	require.NoError(t, bus.Publish(ctx, models.JobChange{Kind: models.KindGeneration, ID: "job-1", Status: "generated"}))

	select {
	case change := <-sub.Events():
		assert.Equal(t, "job-1", change.ID)
		assert.Equal(t, "generated", change.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscriptionCloseEndsEvents(t *testing.T) {
	rdb := newRedis(t)
	bus := NewBus(rdb, "", nil)

	sub, err := bus.Subscribe(context.Background(), models.KindCanvasLayer, "layer-1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

type fakeSource struct {
	changes []models.JobChange
	started chan struct{}
}

func (f *fakeSource) ListenChanges(ctx context.Context, fn func(models.JobChange)) error {
	close(f.started)
	for _, c := range f.changes {
		fn(c)
	}
	<-ctx.Done()
	return ctx.Err()
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []models.JobChange
}

func (p *recordingPublisher) Publish(_ context.Context, c models.JobChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.changes)
}

func TestRelayPublishesWhileLeader(t *testing.T) {
	rdb := newRedis(t)
	src := &fakeSource{
		changes: []models.JobChange{{Kind: models.KindGeneration, ID: "a"}, {Kind: models.KindSegmentation, ID: "b"}},
		started: make(chan struct{}),
	}
	pub := &recordingPublisher{}
	relay, err := NewRelay(RelayOptions{Source: src, Publisher: pub, Locker: redislock.New(rdb), LockTTL: time.Second, Retry: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	<-src.started
	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	exists, err := rdb.Exists(context.Background(), "lock:realtime-relay").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "lock released on shutdown")
}

func TestRelayWaitsWhileLockHeld(t *testing.T) {
	rdb := newRedis(t)
	locker := redislock.New(rdb)
	held, err := locker.Obtain(context.Background(), "lock:realtime-relay", time.Minute, nil)
	require.NoError(t, err)

	src := &fakeSource{started: make(chan struct{})}
	relay, err := NewRelay(RelayOptions{Source: src, Publisher: &recordingPublisher{}, Locker: locker, Retry: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, relay.Run(ctx))

	select {
	case <-src.started:
		t.Fatal("relay listened without holding the lock")
	default:
	}
	require.NoError(t, held.Release(context.Background()))
}
