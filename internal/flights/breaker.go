package flights

import (
	"sync"
	"time"
)

// BreakerState is the operational state of a Breaker.
//
//	StateClosed    normal operation, all calls pass through
//	StateOpen      the source is failing, calls are rejected immediately
//	StateHalfOpen  recovery probe, one call is let through
type BreakerState int

const (
	StateClosed   BreakerState = 0
	StateOpen     BreakerState = 1
	StateHalfOpen BreakerState = 2
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

const (
	DefaultErrorThreshold  = 5
	DefaultTimeWindow      = 60 * time.Second
	DefaultHalfOpenTimeout = 30 * time.Second
)

// BreakerConfig holds circuit breaker tuning parameters. Zero values fall
// back to the package defaults.
type BreakerConfig struct {
	// ErrorThreshold is the number of failures within TimeWindow that trips
	// the breaker. Default: 5.
	ErrorThreshold int

	// TimeWindow is the rolling window for counting errors. Default: 60s.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe call. Default: 30s.
	HalfOpenTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	if c.TimeWindow <= 0 {
		c.TimeWindow = DefaultTimeWindow
	}
	if c.HalfOpenTimeout <= 0 {
		c.HalfOpenTimeout = DefaultHalfOpenTimeout
	}
	return c
}

// Breaker is a single circuit breaker. It is safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time

	state         BreakerState
	errorCount    int
	windowStart   time.Time
	openedAt      time.Time
	probeInflight bool
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:         cfg.withDefaults(),
		now:         time.Now,
		windowStart: time.Now(),
	}
}

// Allow reports whether the next call may proceed.
//
//   - Closed   → always true.
//   - Open     → false, unless the half-open timeout has elapsed, in which
//     case the breaker moves to HalfOpen and allows one probe.
//   - HalfOpen → true only if no probe is currently in flight.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.HalfOpenTimeout {
			b.state = StateHalfOpen
			b.probeInflight = true
			return true
		}
		return false

	case StateHalfOpen:
		if b.probeInflight {
			return false
		}
		b.probeInflight = true
		return true
	}

	return true
}

// RecordSuccess resets the breaker to Closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.errorCount = 0
	b.probeInflight = false
	b.windowStart = b.now()
}

// RecordFailure counts a failure. Reaching ErrorThreshold within TimeWindow,
// or failing the half-open probe, opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = now
		b.probeInflight = false
		return
	}

	if now.Sub(b.windowStart) > b.cfg.TimeWindow {
		b.errorCount = 0
		b.windowStart = now
	}

	b.errorCount++
	b.probeInflight = false

	if b.errorCount >= b.cfg.ErrorThreshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

// Release gives back a half-open probe slot without recording an outcome.
func (b *Breaker) Release() {
	b.mu.Lock()
	b.probeInflight = false
	b.mu.Unlock()
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
