package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// entryHeap orders queue entries by priority ascending, then scheduled_at
// ascending so equal-priority jobs dispatch FIFO.
type entryHeap []*domain.QueueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority == h[j].Priority {
		return h[i].ScheduledAt.Before(h[j].ScheduledAt)
	}
	return h[i].Priority < h[j].Priority
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*domain.QueueEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MemoryQueue is a thread-safe in-process priority queue.
type MemoryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   entryHeap
	index  map[string]struct{}
	closed bool
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		index: make(map[string]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(_ context.Context, entry *domain.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.ErrQueueClosed
	}
	if _, exists := q.index[entry.JobID]; exists {
		return nil
	}

	cp := *entry
	heap.Push(&q.heap, &cp)
	q.index[entry.JobID] = struct{}{}
	q.cond.Signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*domain.QueueEntry, error) {
	// Wake the cond wait when the caller's context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.closed {
			return nil, domain.ErrQueueClosed
		}
		if q.heap.Len() > 0 {
			entry := heap.Pop(&q.heap).(*domain.QueueEntry)
			delete(q.index, entry.JobID)
			return entry, nil
		}
		q.cond.Wait()
	}
}

func (q *MemoryQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[jobID]; !exists {
		return false
	}
	for i, entry := range q.heap {
		if entry.JobID == jobID {
			heap.Remove(&q.heap, i)
			delete(q.index, jobID)
			return true
		}
	}
	return false
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
	return nil
}
