package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisFixedWindowLimiter counts hits in Redis per (key, window) bucket so
// every instance shares one budget. Fixed window rather than sliding: a
// boundary burst of at most 2x the limit is acceptable for these endpoints.
type redisFixedWindowLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client, prefix string) Limiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &redisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *redisFixedWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	bucket := now.UnixNano() / int64(policy.Window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}

	resetAt := time.Unix(0, (bucket+1)*int64(policy.Window))
	used := count.Val()
	if used > int64(policy.Limit) {
		return Decision{
			Allowed:    false,
			RetryAfter: time.Until(resetAt),
			Remaining:  0,
			ResetAt:    resetAt,
		}, nil
	}
	return Decision{
		Allowed:   true,
		Remaining: policy.Limit - int(used),
		ResetAt:   resetAt,
	}, nil
}
