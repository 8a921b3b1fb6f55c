package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter answers whether an identity may send another message right now.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// RedisLimiter counts sends per identity in a fixed window backed by Redis,
// so the limit holds across reconnects of the same identity.
type RedisLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
}

func NewRedisLimiter(redisURL string, max int, window time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	slog.Info("[RATELIMIT] Connected to Redis", "max", max, "window", window)
	return &RedisLimiter{rdb: rdb, max: max, window: window}, nil
}

func (l *RedisLimiter) Close() error {
	return l.rdb.Close()
}

// Allow increments the identity's window counter and reports whether it is
// still under the cap. A Redis failure fails open: messaging should not stop
// because the limiter is unreachable.
func (l *RedisLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := "ratelimit:send:" + userID

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("[RATELIMIT] Redis incr failed, allowing send", "user", userID, "error", err)
		return true, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			slog.Warn("[RATELIMIT] Failed to set window expiry", "user", userID, "error", err)
		}
	}
	return count <= int64(l.max), nil
}

// Unlimited is a Limiter that always allows. Used in tests and when no Redis
// is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
