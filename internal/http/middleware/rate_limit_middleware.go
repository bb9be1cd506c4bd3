package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/surveyforge/surveyforge-backend/internal/http/response"
	"github.com/surveyforge/surveyforge-backend/internal/observability"
)

// Decision is one limiter verdict for one key.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

// FailureMode decides what happens when the limiter backend errors. Auth
// endpoints run fail-closed; read paths can afford fail-open.
type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

// NewRateLimiter builds a per-IP limiter over the in-process sliding window.
func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	return NewRateLimiterWith(NewLocalLimiter(), limit, window, FailClosed, scope, nil)
}

func NewRateLimiterWith(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string, keyFunc func(r *http.Request) string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(RateLimitPolicy{Limit: limit, Window: window}),
		mode:    mode,
		scope:   scope,
		keyFunc: keyFunc,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			// Scopes share a backend; the prefix keeps their budgets apart.
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					slog.Warn("rate limiter backend unavailable, allowing request",
						"scope", rl.scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, time.Now().Add(rl.policy.Window))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

// localLimiter is a per-key sliding window held in memory. Good enough for a
// single instance; multi-instance deployments use the Redis limiter.
type localLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	sweepAt time.Time
}

func NewLocalLimiter() Limiter {
	return &localLimiter{
		windows: make(map[string][]time.Time),
		sweepAt: time.Now().Add(time.Minute),
	}
}

func (l *localLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	cutoff := now.Add(-policy.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		for k, hits := range l.windows {
			if len(hits) == 0 || hits[len(hits)-1].Before(cutoff) {
				delete(l.windows, k)
			}
		}
		l.sweepAt = now.Add(policy.Window)
	}

	hits := l.windows[key]
	pruned := hits[:0]
	for _, hit := range hits {
		if hit.After(cutoff) {
			pruned = append(pruned, hit)
		}
	}
	hits = pruned

	if len(hits) >= policy.Limit {
		retryAfter := hits[0].Add(policy.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		l.windows[key] = hits
		return Decision{Allowed: false, RetryAfter: retryAfter, Remaining: 0, ResetAt: now.Add(retryAfter)}, nil
	}

	hits = append(hits, now)
	l.windows[key] = hits
	return Decision{
		Allowed:   true,
		Remaining: policy.Limit - len(hits),
		ResetAt:   hits[0].Add(policy.Window),
	}, nil
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}

func clientIPKey(r *http.Request) string {
	if ip := parseRequestIP(r); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

// parseRequestIP prefers the leftmost X-Forwarded-For entry, falling back to
// the socket peer address.
func parseRequestIP(r *http.Request) net.IP {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
