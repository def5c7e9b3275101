// redis.go is the multi-instance limiter backend, selected when a Redis
// address is configured. Counters use plain INCR with an EXPIRE set on the
// first hit of each window; exceeding the limit writes a separate block key
// whose TTL is the block duration. Redis being down must never take
// authentication down with it, so every Redis error logs a warning and fails
// open.
package rate

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 500 * time.Millisecond

// RedisLimiter enforces the same window/block semantics as MemoryLimiter
// against shared Redis state.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	prefix string
}

// NewRedisLimiter creates a limiter over an existing Redis client. The
// limiter owns the client and closes it on Stop.
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		cfg:    cfg,
		prefix: "rl:",
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit. Fails open on Redis errors.
func (l *RedisLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	blockKey := l.prefix + "block:" + key
	countKey := l.prefix + "count:" + key

	blocked, err := l.client.Exists(ctx, blockKey).Result()
	if err != nil {
		slog.Warn("rate limiter redis unavailable, allowing request", "error", err)
		return true
	}
	if blocked > 0 {
		return false
	}

	count, err := l.client.Incr(ctx, countKey).Result()
	if err != nil {
		slog.Warn("rate limiter redis unavailable, allowing request", "error", err)
		return true
	}

	// Set expiry on first hit so the counter dies with its window.
	if count == 1 {
		if err := l.client.Expire(ctx, countKey, l.cfg.Window).Err(); err != nil {
			slog.Warn("rate limiter failed to set window expiry", "error", err)
		}
	}

	if count > int64(l.cfg.MaxAttempts) {
		if err := l.client.Set(ctx, blockKey, "1", l.cfg.BlockDuration).Err(); err != nil {
			slog.Warn("rate limiter failed to set block", "error", err)
		}
		if err := l.client.Del(ctx, countKey).Err(); err != nil {
			slog.Warn("rate limiter failed to clear counter", "error", err)
		}
		return false
	}

	return true
}

// Reset forgets all state for key.
func (l *RedisLimiter) Reset(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := l.client.Del(ctx, l.prefix+"block:"+key, l.prefix+"count:"+key).Err(); err != nil {
		slog.Warn("rate limiter failed to reset key", "error", err)
	}
}

// Stop closes the underlying Redis client.
func (l *RedisLimiter) Stop() {
	if err := l.client.Close(); err != nil {
		slog.Warn("rate limiter failed to close redis client", "error", err)
	}
}
