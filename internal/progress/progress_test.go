package progress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink collects every pushed message; optionally fails all sends.
type recordingSink struct {
	mu       sync.Mutex
	messages []*domain.PushMessage
	fail     bool
}

func (s *recordingSink) Send(msg *domain.PushMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errors.New("connection gone")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) received() []*domain.PushMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.PushMessage(nil), s.messages...)
}

func TestMemoryCache_SetGet(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)

	snapshot := &domain.ProgressSnapshot{
		JobID:     "job-1",
		Progress:  33.33,
		Status:    domain.JobStatusProcessing,
		Message:   "Processing file 1 of 3...",
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, cache.Set(ctx, snapshot))

	got, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 33.33, got.Progress)
	assert.Equal(t, "Processing file 1 of 3...", got.Message)

	_, err = cache.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestMemoryCache_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)

	require.NoError(t, cache.Set(ctx, &domain.ProgressSnapshot{JobID: "job-1", Progress: 10}))
	require.NoError(t, cache.Set(ctx, &domain.ProgressSnapshot{JobID: "job-1", Progress: 90}))

	got, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 90.0, got.Progress)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(10 * time.Millisecond)

	require.NoError(t, cache.Set(ctx, &domain.ProgressSnapshot{JobID: "job-1", Progress: 50}))

	_, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = cache.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestMemoryCache_ExpiryEvictionSparesFreshWrite(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)

	require.NoError(t, cache.Set(ctx, &domain.ProgressSnapshot{JobID: "job-1", Progress: 25}))

	// Observe the entry's expiry as a reader that found it stale would
	cache.mu.RLock()
	observed := cache.entries["job-1"].expiresAt
	cache.mu.RUnlock()

	// A fresh write lands before the eviction runs
	time.Sleep(time.Millisecond)
	require.NoError(t, cache.Set(ctx, &domain.ProgressSnapshot{JobID: "job-1", Progress: 75}))
	cache.evictExpired("job-1", observed)

	got, err := cache.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 75.0, got.Progress)

	// A matching expiry still evicts
	cache.mu.RLock()
	observed = cache.entries["job-1"].expiresAt
	cache.mu.RUnlock()
	cache.evictExpired("job-1", observed)

	_, err = cache.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSubscriptionRegistry_AttachDetach(t *testing.T) {
	registry := NewSubscriptionRegistry(testLogger())

	first := &recordingSink{}
	second := &recordingSink{}

	registry.Attach("job-1", first)
	registry.Attach("job-1", second)
	assert.Equal(t, 2, registry.Count("job-1"))

	registry.Detach("job-1", first)
	assert.Equal(t, 1, registry.Count("job-1"))

	// Detaching twice is harmless
	registry.Detach("job-1", first)
	assert.Equal(t, 1, registry.Count("job-1"))

	registry.Detach("job-1", second)
	assert.Equal(t, 0, registry.Count("job-1"))
}

func TestSubscriptionRegistry_Broadcast(t *testing.T) {
	registry := NewSubscriptionRegistry(testLogger())

	watcher := &recordingSink{}
	other := &recordingSink{}
	registry.Attach("job-1", watcher)
	registry.Attach("job-2", other)

	registry.Broadcast("job-1", &domain.PushMessage{JobID: "job-1", Progress: 50})

	require.Len(t, watcher.received(), 1)
	assert.Equal(t, 50.0, watcher.received()[0].Progress)

	// Subscribers of other jobs see nothing
	assert.Empty(t, other.received())

	// Broadcast with no subscribers is a no-op
	registry.Broadcast("job-3", &domain.PushMessage{JobID: "job-3"})
}

func TestSubscriptionRegistry_BroadcastDetachesDeadSinks(t *testing.T) {
	registry := NewSubscriptionRegistry(testLogger())

	alive := &recordingSink{}
	dead := &recordingSink{fail: true}
	registry.Attach("job-1", alive)
	registry.Attach("job-1", dead)

	registry.Broadcast("job-1", &domain.PushMessage{JobID: "job-1", Progress: 25})

	assert.Len(t, alive.received(), 1)
	assert.Equal(t, 1, registry.Count("job-1"))

	// Next broadcast only reaches the survivor
	registry.Broadcast("job-1", &domain.PushMessage{JobID: "job-1", Progress: 75})
	assert.Len(t, alive.received(), 2)
}

func TestBus_PublishCachesBeforePush(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)
	registry := NewSubscriptionRegistry(testLogger())
	bus := NewBus(cache, registry, testLogger())

	// A sink that reads the cache from inside Send observes the snapshot
	// it is being notified about.
	var cachedProgress float64
	probe := probeSink{fn: func(msg *domain.PushMessage) error {
		snapshot, err := cache.Get(ctx, msg.JobID)
		if err != nil {
			return err
		}
		cachedProgress = snapshot.Progress
		return nil
	}}
	registry.Attach("job-1", probe)

	require.NoError(t, bus.Publish(ctx, &domain.ProgressSnapshot{
		JobID:    "job-1",
		Progress: 66.67,
		Status:   domain.JobStatusProcessing,
	}))

	assert.Equal(t, 66.67, cachedProgress)
	assert.Equal(t, 1, registry.Count("job-1"))
}

func TestBus_PublishStampsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)
	bus := NewBus(cache, NewSubscriptionRegistry(testLogger()), testLogger())

	require.NoError(t, bus.Publish(ctx, &domain.ProgressSnapshot{JobID: "job-1", Progress: 10}))

	got, err := bus.GetLatest(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestBus_GetLatestMissing(t *testing.T) {
	bus := NewBus(NewMemoryCache(time.Hour), NewSubscriptionRegistry(testLogger()), testLogger())

	_, err := bus.GetLatest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

type probeSink struct {
	fn func(msg *domain.PushMessage) error
}

func (p probeSink) Send(msg *domain.PushMessage) error {
	return p.fn(msg)
}
