package service

import (
	"context"
	"strings"
	"time"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeForgot AuthAbuseScope = "forgot"
)

// AuthAbusePolicy shapes the exponential cooldown applied after repeated
// authentication failures from the same identity or address.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func (p AuthAbusePolicy) normalized() AuthAbusePolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 15 * time.Minute
	}
	return p
}

// AuthAbuseGuard throttles repeated authentication failures. A nil guard is
// valid and never throttles.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
