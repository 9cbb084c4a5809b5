// Package queue provides the dispatch queue the scheduler admits jobs into
// and the worker pool pulls from. Two implementations exist: an in-memory
// priority queue and a RabbitMQ-backed durable queue; the scheduler is
// agnostic to which one it is given.
package queue

import (
	"context"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// Queue orders admitted jobs for dispatch: lowest priority value first,
// FIFO within a priority band.
type Queue interface {
	// Enqueue makes the entry visible to workers.
	Enqueue(ctx context.Context, entry *domain.QueueEntry) error

	// Dequeue blocks until an entry is available, the context is cancelled,
	// or the queue is closed (domain.ErrQueueClosed).
	Dequeue(ctx context.Context) (*domain.QueueEntry, error)

	// Remove withdraws a not-yet-dequeued entry. Best effort: a durable
	// broker cannot delete individual messages, so cancellation correctness
	// always rests on the store-level claim, not on Remove.
	Remove(jobID string) bool

	// Len returns the number of entries waiting for dispatch.
	Len() int

	// Close shuts the queue down and unblocks pending Dequeue calls.
	Close() error
}
