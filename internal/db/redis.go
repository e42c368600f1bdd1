package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// runLockKey guards against concurrent pipeline runs across instances.
const runLockKey = "ingest:run-lock"

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// AcquireRunLock tries to take the single-writer lock. It returns false when
// another run already holds it. The TTL bounds how long a crashed run can
// keep the lock.
func AcquireRunLock(ctx context.Context, rdb *redis.Client, ttl time.Duration) (bool, error) {
	ok, err := rdb.SetNX(ctx, runLockKey, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	return ok, nil
}

// ReleaseRunLock drops the single-writer lock.
func ReleaseRunLock(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Del(ctx, runLockKey).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
