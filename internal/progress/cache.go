// Package progress propagates live job progress: a TTL-bounded snapshot
// cache for polling, a subscription registry for push, and the bus that
// feeds both.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// ErrSnapshotNotFound is returned when no snapshot is cached for a job,
// either because it never published or because the TTL expired. The job
// store remains authoritative for coarse status in that case.
var ErrSnapshotNotFound = errors.New("progress snapshot not found")

// DefaultTTL bounds how long a snapshot outlives its last update.
const DefaultTTL = time.Hour

// Cache is the keyed last-write-wins store for the newest snapshot per job.
type Cache interface {
	Set(ctx context.Context, snapshot *domain.ProgressSnapshot) error
	Get(ctx context.Context, jobID string) (*domain.ProgressSnapshot, error)
}

type memoryEntry struct {
	snapshot  domain.ProgressSnapshot
	expiresAt time.Time
}

// MemoryCache is an in-process Cache with per-entry expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

// NewMemoryCache returns a MemoryCache. A non-positive ttl falls back to
// DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Set(_ context.Context, snapshot *domain.ProgressSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[snapshot.JobID] = memoryEntry{
		snapshot:  *snapshot,
		expiresAt: time.Now().Add(c.ttl),
	}

	// Opportunistically drop expired entries so the map does not grow
	// unbounded between reads.
	if len(c.entries)%64 == 0 {
		now := time.Now()
		for id, entry := range c.entries {
			if now.After(entry.expiresAt) {
				delete(c.entries, id)
			}
		}
	}

	return nil
}

func (c *MemoryCache) Get(_ context.Context, jobID string) (*domain.ProgressSnapshot, error) {
	c.mu.RLock()
	entry, ok := c.entries[jobID]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrSnapshotNotFound
	}
	if time.Now().After(entry.expiresAt) {
		c.evictExpired(jobID, entry.expiresAt)
		return nil, ErrSnapshotNotFound
	}

	cp := entry.snapshot
	return &cp, nil
}

// evictExpired drops the entry only while it still carries the observed
// expiry. A Set landing between the read and this call keeps its fresh
// snapshot.
func (c *MemoryCache) evictExpired(jobID string, observed time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.entries[jobID]; ok && !current.expiresAt.After(observed) {
		delete(c.entries, jobID)
	}
}
