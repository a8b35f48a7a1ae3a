package flights

import (
	"testing"
	"time"
)

func newTestBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	b.windowStart = now
	return b, &now
}

func TestBreaker_InitialState(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should allow")
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{ErrorThreshold: 3})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("should remain closed before threshold, iteration %d", i)
		}
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("should be open after reaching threshold")
	}
	if b.Allow() {
		t.Fatal("open breaker should reject")
	}
	if b.State().String() != "open" {
		t.Fatalf("label = %s", b.State())
	}
}

func TestBreaker_WindowResetsErrorCount(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{ErrorThreshold: 3, TimeWindow: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(2 * time.Minute)
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatal("failures outside the window should not accumulate")
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{ErrorThreshold: 1, HalfOpenTimeout: 30 * time.Second})

	b.RecordFailure()
	*now = now.Add(31 * time.Second)

	if !b.Allow() {
		t.Fatal("first call after timeout should be the probe")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}
	if b.Allow() {
		t.Fatal("second concurrent probe should be rejected")
	}

	b.RecordSuccess()
	if b.State() != StateClosed || !b.Allow() {
		t.Fatal("successful probe should close the breaker")
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{ErrorThreshold: 1, HalfOpenTimeout: 30 * time.Second})

	b.RecordFailure()
	*now = now.Add(31 * time.Second)
	_ = b.Allow()
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("reopened breaker should reject until the next timeout")
	}
}

func TestBreaker_ReleaseFreesProbe(t *testing.T) {
	b, now := newTestBreaker(BreakerConfig{ErrorThreshold: 1, HalfOpenTimeout: time.Second})

	b.RecordFailure()
	*now = now.Add(2 * time.Second)
	_ = b.Allow()
	b.Release()

	if !b.Allow() {
		t.Fatal("released probe slot should be reusable")
	}
}
