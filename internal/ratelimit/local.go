package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often Local drops windows that have ended.
const DefaultSweepInterval = 5 * time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// Local is an in-process Limiter. Counters are not shared between
// replicas, so use it only when no shared store is configured.
//
// It is safe for concurrent use. A background goroutine periodically
// removes ended windows so idle clients do not accumulate.
type Local struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewLocal creates a Local limiter and starts its sweep loop. The loop stops
// when ctx is cancelled or Close is called. A non-positive interval uses
// DefaultSweepInterval.
func NewLocal(ctx context.Context, interval time.Duration) *Local {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	l := &Local{
		windows: make(map[string]*window),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.sweep(ctx, interval)
	return l
}

// Allow never returns an error.
func (l *Local) Allow(_ context.Context, key string, limit int, win time.Duration) (Decision, error) {
	now := l.now()
	if limit <= 0 {
		return Decision{Limit: limit, ResetAt: now.Add(win)}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(win)}
		l.windows[key] = w
		return Decision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: w.resetAt}, nil
	}

	if w.count >= limit {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Decision{Allowed: true, Limit: limit, Remaining: limit - w.count, ResetAt: w.resetAt}, nil
}

// Len returns the number of tracked windows, including ended ones that
// have not been swept yet.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (l *Local) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Local) sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictExpired()
		case <-ctx.Done():
			return
		case <-l.done:
			return
		}
	}
}

func (l *Local) evictExpired() {
	now := l.now()

	l.mu.Lock()
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
		}
	}
	l.mu.Unlock()
}
