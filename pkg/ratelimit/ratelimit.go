// Package ratelimit implements fixed-window request limiting on top of
// the ephemeral state store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeclash-io/codeclash/pkg/store"
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Rule describes one endpoint's window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter counts hits per (identifier, endpoint) over a fixed window. The
// counter is created with the window's TTL on first hit. Store failures
// never block legitimate traffic: the limiter fails open with a log line.
type Limiter struct {
	store store.Store
}

// New creates a limiter over the given store.
func New(st store.Store) *Limiter {
	return &Limiter{store: st}
}

// Check counts one hit and reports whether the caller is within the rule.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, rule Rule) Decision {
	key := fmt.Sprintf("ratelimit:%s:%s", endpoint, identifier)

	n, err := l.store.Incr(ctx, key)
	if err != nil {
		slog.Warn("Rate limiter store failure, failing open",
			"endpoint", endpoint, "error", err)
		return Decision{Allowed: true, Remaining: rule.Limit, ResetAt: time.Now().Add(rule.Window)}
	}
	if n == 1 {
		if err := l.store.Expire(ctx, key, rule.Window); err != nil {
			slog.Warn("Rate limiter could not set window TTL",
				"endpoint", endpoint, "error", err)
		}
	}

	remaining := rule.Limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   n <= int64(rule.Limit),
		Remaining: remaining,
		ResetAt:   time.Now().Add(rule.Window),
	}
}
