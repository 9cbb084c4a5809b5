package progress

import (
	"log/slog"
	"sync"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// Sink is one live observer connection. Send must be safe to call from the
// publishing goroutine; a returned error marks the sink dead.
type Sink interface {
	Send(msg *domain.PushMessage) error
}

// SubscriptionRegistry groups live sinks by job id. It is the sole owner of
// subscriptions: sinks enter via Attach and leave via Detach or a failed
// send during broadcast.
type SubscriptionRegistry struct {
	mu     sync.RWMutex
	subs   map[string][]Sink
	logger *slog.Logger
}

// NewSubscriptionRegistry returns an empty registry.
func NewSubscriptionRegistry(logger *slog.Logger) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs:   make(map[string][]Sink),
		logger: logger,
	}
}

// Attach registers a sink for push updates on one job.
func (r *SubscriptionRegistry) Attach(jobID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[jobID] = append(r.subs[jobID], sink)

	r.logger.Debug("Subscriber attached",
		slog.String("job_id", jobID),
		slog.Int("subscriber_count", len(r.subs[jobID])),
	)
}

// Detach removes a sink. Safe to call for a sink that is already gone.
func (r *SubscriptionRegistry) Detach(jobID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(jobID, sink)
}

func (r *SubscriptionRegistry) detachLocked(jobID string, sink Sink) {
	sinks := r.subs[jobID]
	for i, s := range sinks {
		if s == sink {
			r.subs[jobID] = append(sinks[:i], sinks[i+1:]...)
			break
		}
	}
	if len(r.subs[jobID]) == 0 {
		delete(r.subs, jobID)
	}
}

// Broadcast sends msg to every live sink for the job, at most once per sink
// with no retry. Sinks whose send fails are detached.
func (r *SubscriptionRegistry) Broadcast(jobID string, msg *domain.PushMessage) {
	r.mu.RLock()
	sinks := append([]Sink(nil), r.subs[jobID]...)
	r.mu.RUnlock()

	if len(sinks) == 0 {
		return
	}

	var dead []Sink
	for _, sink := range sinks {
		if err := sink.Send(msg); err != nil {
			r.logger.Debug("Dropping dead subscriber",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			dead = append(dead, sink)
		}
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, sink := range dead {
			r.detachLocked(jobID, sink)
		}
		r.mu.Unlock()
	}
}

// Count returns the number of live sinks for a job.
func (r *SubscriptionRegistry) Count(jobID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[jobID])
}
