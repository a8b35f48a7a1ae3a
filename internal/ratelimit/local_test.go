package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestLocal(t *testing.T) (*Local, *time.Time) {
	t.Helper()
	l := NewLocal(context.Background(), time.Hour)
	t.Cleanup(l.Close)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLocal_AllowsThenBlocks(t *testing.T) {
	l, _ := newTestLocal(t)
	ctx := context.Background()

	wantAllowed := []bool{true, true, true, false}
	wantRemaining := []int{2, 1, 0, 0}

	for i := range wantAllowed {
		d, _ := l.Allow(ctx, "ip:/api/x", 3, time.Minute)
		if d.Allowed != wantAllowed[i] || d.Remaining != wantRemaining[i] {
			t.Errorf("call %d: got allowed=%v remaining=%d, want %v/%d",
				i, d.Allowed, d.Remaining, wantAllowed[i], wantRemaining[i])
		}
	}
}

func TestLocal_ResetsAfterWindow(t *testing.T) {
	l, now := newTestLocal(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = l.Allow(ctx, "k", 3, time.Minute)
	}

	*now = now.Add(time.Minute + time.Second)

	d, _ := l.Allow(ctx, "k", 3, time.Minute)
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("after window: allowed=%v remaining=%d", d.Allowed, d.Remaining)
	}
}

func TestLocal_ResetAtStableWithinWindow(t *testing.T) {
	l, now := newTestLocal(t)
	ctx := context.Background()

	first, _ := l.Allow(ctx, "k", 10, time.Minute)
	*now = now.Add(10 * time.Second)
	second, _ := l.Allow(ctx, "k", 10, time.Minute)

	if !first.ResetAt.Equal(second.ResetAt) {
		t.Fatalf("ResetAt moved: %v -> %v", first.ResetAt, second.ResetAt)
	}
}

func TestLocal_EvictExpired(t *testing.T) {
	l, now := newTestLocal(t)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "old", 5, time.Minute)
	*now = now.Add(30 * time.Second)
	_, _ = l.Allow(ctx, "new", 5, time.Minute)

	*now = now.Add(45 * time.Second)
	l.evictExpired()

	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestLocal_ConcurrentCallsNeverExceedLimit(t *testing.T) {
	l := NewLocal(context.Background(), time.Hour)
	defer l.Close()

	const limit = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := l.Allow(context.Background(), "shared", limit, time.Minute)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("allowed = %d, want %d", allowed, limit)
	}
}

func TestLocal_CloseIdempotent(t *testing.T) {
	l := NewLocal(context.Background(), 0)
	l.Close()
	l.Close()
}

func TestPolicy_RuleFor(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		path  string
		limit int
	}{
		{"/api/auth/signup", 5},
		{"/api/auth/signin", 20},
		{"/api/auth/signup/extra", 20},
		{"/api/flights/search", 100},
		{"/api/user/search-history", 100},
	}
	for _, tt := range tests {
		if got := p.RuleFor(tt.path).Limit; got != tt.limit {
			t.Errorf("RuleFor(%s).Limit = %d, want %d", tt.path, got, tt.limit)
		}
	}
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Now()
	d := Decision{ResetAt: now.Add(900 * time.Second)}
	if got := d.RetryAfter(now); got != 900 {
		t.Fatalf("RetryAfter = %d, want 900", got)
	}
	if got := (Decision{ResetAt: now}).RetryAfter(now); got != 1 {
		t.Fatalf("RetryAfter at reset = %d, want 1", got)
	}
}
