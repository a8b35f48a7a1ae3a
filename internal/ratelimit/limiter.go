// Package ratelimit implements fixed-window request limiting.
//
// Two Limiter implementations share the same decision semantics:
//
//   - FixedWindow: counters live in Redis and are updated by an atomic Lua
//     script, so every gateway instance sees the same window.
//   - Local: an in-process map, used only when no shared store is configured.
//
// Window semantics: the first request opens a window with count 1. While the
// window is open, requests are admitted and counted until count reaches the
// limit; later requests in the same window are rejected without counting.
// Once the window has passed the next request opens a fresh one.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter decides whether the request identified by key fits within limit
// requests per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Rule is a request budget for one route class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Policy maps request paths to rules. Exact matches win over prefixes, longer
// prefixes over shorter ones, and Default applies to everything else.
type Policy struct {
	Exact    map[string]Rule
	Prefixes map[string]Rule
	Default  Rule
}

// DefaultPolicy returns the stock API budgets: 5 signups, 20 other auth
// calls and 100 general API calls per client per 15 minutes.
func DefaultPolicy() Policy {
	const window = 15 * time.Minute
	return Policy{
		Exact:    map[string]Rule{"/api/auth/signup": {Limit: 5, Window: window}},
		Prefixes: map[string]Rule{"/api/auth/": {Limit: 20, Window: window}},
		Default:  Rule{Limit: 100, Window: window},
	}
}

// RuleFor returns the rule that governs path.
func (p Policy) RuleFor(path string) Rule {
	if r, ok := p.Exact[path]; ok {
		return r
	}

	best, bestLen := p.Default, -1
	for prefix, r := range p.Prefixes {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			best, bestLen = r, len(prefix)
		}
	}
	return best
}

// failOpen is the decision used when the backing store cannot be consulted.
func failOpen(limit int, window time.Duration, now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: max(limit-1, 0),
		ResetAt:   now.Add(window),
	}
}
