package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

func entryAt(jobID string, priority int, scheduledAt time.Time) *domain.QueueEntry {
	return &domain.QueueEntry{
		JobID:       jobID,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		MaxRetries:  3,
	}
}

func TestMemoryQueue_PriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	now := time.Now().UTC()
	require.NoError(t, q.Enqueue(ctx, entryAt("low", 9, now)))
	require.NoError(t, q.Enqueue(ctx, entryAt("high", 0, now.Add(time.Second))))
	require.NoError(t, q.Enqueue(ctx, entryAt("mid", 5, now.Add(2*time.Second))))

	var order []string
	for i := 0; i < 3; i++ {
		entry, err := q.Dequeue(ctx)
		require.NoError(t, err)
		order = append(order, entry.JobID)
	}

	assert.Equal(t, []string{"high", "mid", "low"}, order)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_FIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	now := time.Now().UTC()
	require.NoError(t, q.Enqueue(ctx, entryAt("first", 5, now)))
	require.NoError(t, q.Enqueue(ctx, entryAt("second", 5, now.Add(time.Millisecond))))
	require.NoError(t, q.Enqueue(ctx, entryAt("third", 5, now.Add(2*time.Millisecond))))

	for _, want := range []string{"first", "second", "third"} {
		entry, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, entry.JobID)
	}
}

func TestMemoryQueue_DuplicateEnqueueIgnored(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	entry := entryAt("job-1", 5, time.Now().UTC())
	require.NoError(t, q.Enqueue(ctx, entry))
	require.NoError(t, q.Enqueue(ctx, entry))

	assert.Equal(t, 1, q.Len())
}

func TestMemoryQueue_Remove(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	now := time.Now().UTC()
	require.NoError(t, q.Enqueue(ctx, entryAt("keep", 5, now)))
	require.NoError(t, q.Enqueue(ctx, entryAt("drop", 1, now)))

	assert.True(t, q.Remove("drop"))
	assert.False(t, q.Remove("drop"))
	assert.False(t, q.Remove("never-enqueued"))

	entry, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "keep", entry.JobID)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	got := make(chan *domain.QueueEntry, 1)
	go func() {
		entry, err := q.Dequeue(ctx)
		if err == nil {
			got <- entry
		}
	}()

	// The consumer is parked; nothing to deliver yet
	select {
	case <-got:
		t.Fatal("dequeue returned before enqueue")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue(ctx, entryAt("job-1", 5, time.Now().UTC())))

	select {
	case entry := <-got:
		assert.Equal(t, "job-1", entry.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake after enqueue")
	}
}

func TestMemoryQueue_CloseUnblocksDequeue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not unblock on close")
	}

	// Enqueue after close is rejected
	err := q.Enqueue(ctx, entryAt("late", 5, time.Now().UTC()))
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}

func TestMemoryQueue_ContextCancelUnblocksDequeue(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not unblock on context cancel")
	}
}
