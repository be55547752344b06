// Package ratelimit applies named sliding-window limits to subjects such as
// an email address or a client IP. Counters live in a shared Store; when the
// shared store fails the limiter degrades to a process-local one.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-petition/internal/config"
)

// Rule is a named limit, e.g. "otp:email" allowing 5 hits per 15 minutes.
type Rule struct {
	Name   string
	Max    int
	Window time.Duration
}

func ruleFrom(name string, l config.Limit) Rule {
	return Rule{Name: name, Max: l.Max, Window: l.Window}
}

// Policy groups the rules applied by the OTP and signature flows.
type Policy struct {
	OTPPerEmail       Rule
	OTPPerIP          Rule
	OTPVerifyPerEmail Rule
	SignPerEmail      Rule
	SignPerIP         Rule
}

// NewPolicy builds the policy from configuration.
func NewPolicy(cfg *config.Config) Policy {
	rl := cfg.RateLimits
	return Policy{
		OTPPerEmail:       ruleFrom("otp:email", rl.OTPPerEmail),
		OTPPerIP:          ruleFrom("otp:ip", rl.OTPPerIP),
		OTPVerifyPerEmail: ruleFrom("otp-verify:email", rl.OTPVerifyPerEmail),
		SignPerEmail:      ruleFrom("sign:email", rl.SignPerEmail),
		SignPerIP:         ruleFrom("sign:ip", rl.SignPerIP),
	}
}

// Store records one hit for bucket and reports whether it is within r.
type Store interface {
	Take(ctx context.Context, bucket string, r Rule, now time.Time) (bool, error)
}

// Limiter checks rules against a primary store with a local fallback.
// A nil primary store means limiting is disabled.
type Limiter struct {
	primary  Store
	fallback Store
	now      func() time.Time
}

// New returns a limiter over primary. Errors from primary are logged and the
// hit is counted in fallback instead.
func New(primary, fallback Store) *Limiter {
	return &Limiter{primary: primary, fallback: fallback, now: time.Now}
}

// Disabled returns a limiter that allows everything.
func Disabled() *Limiter {
	return &Limiter{now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow records a hit for subject under r and reports whether it is allowed.
// An error is returned only when both stores fail.
func (l *Limiter) Allow(ctx context.Context, r Rule, subject string) (bool, error) {
	if l.primary == nil || r.Max <= 0 {
		return true, nil
	}
	bucket := r.Name + ":" + subject
	now := l.now()
	ok, err := l.primary.Take(ctx, bucket, r, now)
	if err == nil {
		return ok, nil
	}
	if l.fallback == nil {
		return false, err
	}
	slog.Warn("rate limit store unavailable, using local counters", "rule", r.Name, "err", err)
	return l.fallback.Take(ctx, bucket, r, now)
}
