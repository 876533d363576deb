// Package ratelimit implements the signup rate limiter: a Redis-backed
// fixed-window counter (one bucket per clock minute) with transparent
// fallback to an in-process sliding-window limiter
// when Redis is unreachable, grounded on the original signup throttle and
// adapted from the teacher's Redis-cache-with-fallback idiom in
// pkg/alert/dedup.go.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLimitExceeded is returned once a key has exceeded its per-minute budget.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// InMemoryLimiter is a sliding-window limiter keyed in process memory, used
// standalone in tests and as RedisLimiter's degraded fallback.
type InMemoryLimiter struct {
	limitPerMinute int

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewInMemoryLimiter constructs an InMemoryLimiter.
func NewInMemoryLimiter(limitPerMinute int) *InMemoryLimiter {
	return &InMemoryLimiter{limitPerMinute: limitPerMinute, hits: make(map[string][]time.Time)}
}

// Check records one hit for key and returns ErrLimitExceeded if that pushes
// key over its per-minute budget.
func (l *InMemoryLimiter) Check(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-time.Minute)

	hits := l.hits[key]
	kept := hits[:0]
	for _, h := range hits {
		if h.After(windowStart) {
			kept = append(kept, h)
		}
	}
	if len(kept) >= l.limitPerMinute {
		l.hits[key] = kept
		return ErrLimitExceeded
	}
	l.hits[key] = append(kept, now)
	return nil
}

const redisKeyPrefix = "ratelimit:signup:"

// RedisLimiter is the primary signup rate limiter: a Redis INCR-with-expiry
// counter bucketed by minute, falling back to an InMemoryLimiter for the
// duration of any Redis failure rather than failing open or closed.
type RedisLimiter struct {
	client         *redis.Client
	limitPerMinute int
	logger         *slog.Logger
	fallback       *InMemoryLimiter
}

// NewRedisLimiter constructs a RedisLimiter. client may be nil, in which case
// every check uses the fallback limiter.
func NewRedisLimiter(client *redis.Client, limitPerMinute int, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:         client,
		limitPerMinute: limitPerMinute,
		logger:         logger,
		fallback:       NewInMemoryLimiter(limitPerMinute),
	}
}

// Check increments key's bucket for the current minute in Redis, falling
// back to the in-memory limiter on any Redis error.
func (l *RedisLimiter) Check(ctx context.Context, key string) error {
	if l.client == nil {
		return l.fallback.Check(ctx, key)
	}

	bucket := time.Now().Unix() / 60
	redisKey := fmt.Sprintf("%s%d:%s", redisKeyPrefix, bucket, key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Warn("rate limiter redis incr failed, falling back", "error", err)
		return l.fallback.Check(ctx, key)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, 130*time.Second).Err(); err != nil {
			l.logger.Warn("rate limiter redis expire failed", "error", err)
		}
	}
	if int(count) > l.limitPerMinute {
		return ErrLimitExceeded
	}
	return nil
}
