package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// Bus is the single integration point for progress propagation. The cache
// write happens before the push attempt, so a concurrent poll reader always
// observes at least what any subscriber was just sent.
type Bus struct {
	cache    Cache
	registry *SubscriptionRegistry
	logger   *slog.Logger
}

// NewBus wires a cache and a subscription registry together.
func NewBus(cache Cache, registry *SubscriptionRegistry, logger *slog.Logger) *Bus {
	return &Bus{
		cache:    cache,
		registry: registry,
		logger:   logger,
	}
}

// Registry exposes the registry for observer attachment.
func (b *Bus) Registry() *SubscriptionRegistry {
	return b.registry
}

// Publish caches the snapshot, then pushes it best-effort to every live
// subscriber for the job. Push failures are absorbed; subscribers fall back
// to polling GetLatest.
func (b *Bus) Publish(ctx context.Context, snapshot *domain.ProgressSnapshot) error {
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}

	if err := b.cache.Set(ctx, snapshot); err != nil {
		b.logger.Warn("Failed to cache progress snapshot",
			slog.String("job_id", snapshot.JobID),
			slog.String("error", err.Error()),
		)
		// Push anyway; the durable job record still has coarse status.
	}

	b.registry.Broadcast(snapshot.JobID, domain.NewPushMessage(snapshot))
	return nil
}

// GetLatest returns the newest cached snapshot or ErrSnapshotNotFound.
func (b *Bus) GetLatest(ctx context.Context, jobID string) (*domain.ProgressSnapshot, error) {
	return b.cache.Get(ctx, jobID)
}
