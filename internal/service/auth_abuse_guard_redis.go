package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAuthAbuseGuard keeps per-identity and per-address failure state in
// redis hashes so cooldowns survive restarts and apply across instances.
type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{client: client, prefix: prefix, policy: policy.normalized()}
}

type abuseState struct {
	failures      int64
	lastFailureMS int64
	cooldownUntil int64
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	if g.client == nil {
		return 0, nil
	}
	var longest time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		state, ok, err := g.load(ctx, key)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if remaining := time.Until(time.UnixMilli(state.cooldownUntil)); remaining > longest {
			longest = remaining
		}
	}
	if longest < 0 {
		longest = 0
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	if g.client == nil {
		return 0, nil
	}
	now := time.Now()
	var longest time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		state, ok, err := g.load(ctx, key)
		if err != nil {
			return 0, err
		}
		if ok && now.Sub(time.UnixMilli(state.lastFailureMS)) > g.policy.ResetWindow {
			state = abuseState{}
		}
		state.failures++
		state.lastFailureMS = now.UnixMilli()

		cooldown := g.cooldownFor(state.failures)
		if cooldown > 0 {
			state.cooldownUntil = now.Add(cooldown).UnixMilli()
		}
		if err := g.store(ctx, key, state); err != nil {
			return 0, err
		}
		if cooldown > longest {
			longest = cooldown
		}
	}
	return longest, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	if g.client == nil {
		return nil
	}
	keys := g.keys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

// cooldownFor grows the delay geometrically once the free attempts are spent.
func (g *RedisAuthAbuseGuard) cooldownFor(failures int64) time.Duration {
	over := failures - int64(g.policy.FreeAttempts)
	if over <= 0 {
		return 0
	}
	delay := time.Duration(float64(g.policy.BaseDelay) * math.Pow(g.policy.Multiplier, float64(over-1)))
	if delay > g.policy.MaxDelay || delay <= 0 {
		delay = g.policy.MaxDelay
	}
	return delay
}

func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if id := normalizeAuthIdentity(identity); id != "" {
		keys = append(keys, g.stateKey(scope, "id", id))
	}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, dimension, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, dimension, value)
}

func (g *RedisAuthAbuseGuard) load(ctx context.Context, key string) (abuseState, bool, error) {
	fields, err := g.client.HGetAll(ctx, key).Result()
	if err != nil {
		return abuseState{}, false, err
	}
	if len(fields) == 0 {
		return abuseState{}, false, nil
	}
	var state abuseState
	parse := func(name string, dst *int64) error {
		raw, ok := fields[name]
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse abuse state field %s: %w", name, err)
		}
		*dst = n
		return nil
	}
	if err := parse("failures", &state.failures); err != nil {
		return abuseState{}, false, err
	}
	if err := parse("last_failure_ms", &state.lastFailureMS); err != nil {
		return abuseState{}, false, err
	}
	if err := parse("cooldown_until_ms", &state.cooldownUntil); err != nil {
		return abuseState{}, false, err
	}
	return state, true, nil
}

func (g *RedisAuthAbuseGuard) store(ctx context.Context, key string, state abuseState) error {
	pipe := g.client.TxPipeline()
	pipe.HSet(ctx, key,
		"failures", state.failures,
		"last_failure_ms", state.lastFailureMS,
		"cooldown_until_ms", state.cooldownUntil,
	)
	pipe.Expire(ctx, key, g.policy.ResetWindow+g.policy.MaxDelay)
	_, err := pipe.Exec(ctx)
	return err
}
