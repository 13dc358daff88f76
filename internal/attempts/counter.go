// Package attempts counts claim attempts per user per UTC day.
package attempts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Counter interface {
	// Incr records one attempt on day and returns the new count.
	Incr(ctx context.Context, userID uuid.UUID, day time.Time) (int64, error)
	Count(ctx context.Context, userID uuid.UUID, day time.Time) (int64, error)
}

// Keys outlive their day so late readers still see yesterday's count.
const keyTTL = 48 * time.Hour

func key(userID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("claim_attempts:%s:%s", userID, day.UTC().Format(time.DateOnly))
}

type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (c *RedisCounter) Incr(ctx context.Context, userID uuid.UUID, day time.Time) (int64, error) {
	k := key(userID, day)
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, keyTTL)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Count(ctx context.Context, userID uuid.UUID, day time.Time) (int64, error) {
	n, err := c.rdb.Get(ctx, key(userID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// MemoryCounter is used when no Redis is configured. Counts are per process.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

func (c *MemoryCounter) Incr(_ context.Context, userID uuid.UUID, day time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(userID, day)
	c.counts[k]++
	return c.counts[k], nil
}

func (c *MemoryCounter) Count(_ context.Context, userID uuid.UUID, day time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key(userID, day)], nil
}

var (
	_ Counter = (*RedisCounter)(nil)
	_ Counter = (*MemoryCounter)(nil)
)
