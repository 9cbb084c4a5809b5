package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
	"github.com/cuongbtq/audio-processing-be/shared/redis"
)

// RedisCache stores snapshots under job_progress:<job_id> with a server-side
// TTL, so progress survives a service restart for its remaining lifetime.
type RedisCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisCache wraps a connected shared Redis client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		rdb: client.GetRDB(),
		ttl: ttl,
	}
}

var _ Cache = (*RedisCache)(nil)

func progressKey(jobID string) string {
	return "job_progress:" + jobID
}

func (c *RedisCache) Set(ctx context.Context, snapshot *domain.ProgressSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.rdb.Set(ctx, progressKey(snapshot.JobID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, jobID string) (*domain.ProgressSnapshot, error) {
	data, err := c.rdb.Get(ctx, progressKey(jobID)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}
