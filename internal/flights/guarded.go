package flights

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/HarshitKumar9030/jetvein/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("flights: circuit open")

// Guarded wraps a Source with a circuit breaker, a per-call timeout and
// metrics. ErrNotFound answers count as successes.
type Guarded struct {
	src     Source
	breaker *Breaker
	timeout time.Duration
	metrics *metrics.Registry
	log     *slog.Logger
}

type GuardedOptions struct {
	Breaker BreakerConfig
	// Timeout bounds each call. Zero leaves the caller's deadline alone.
	Timeout time.Duration
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

func NewGuarded(src Source, opts GuardedOptions) *Guarded {
	g := &Guarded{
		src:     src,
		breaker: NewBreaker(opts.Breaker),
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	g.metrics.SetCircuitBreaker(src.Name(), int64(StateClosed))
	return g
}

func (g *Guarded) Name() string { return g.src.Name() }

// BreakerState reports the current breaker state.
func (g *Guarded) BreakerState() BreakerState { return g.breaker.State() }

func (g *Guarded) Flight(ctx context.Context, number string) (*Flight, error) {
	var f *Flight
	err := g.call(ctx, "flight", func(ctx context.Context) error {
		var err error
		f, err = g.src.Flight(ctx, number)
		return err
	})
	return f, err
}

func (g *Guarded) AircraftHistory(ctx context.Context, registration string) (*AircraftHistory, error) {
	var h *AircraftHistory
	err := g.call(ctx, "aircraft_history", func(ctx context.Context) error {
		var err error
		h, err = g.src.AircraftHistory(ctx, registration)
		return err
	})
	return h, err
}

// HealthCheck bypasses the breaker so a recovering upstream is still seen.
func (g *Guarded) HealthCheck(ctx context.Context) error {
	return g.src.HealthCheck(ctx)
}

func (g *Guarded) call(ctx context.Context, op string, fn func(context.Context) error) error {
	name := g.src.Name()

	if !g.breaker.Allow() {
		g.metrics.ObserveUpstream(name, op, "rejected", 0)
		return ErrCircuitOpen
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	dur := time.Since(start)

	switch {
	case err == nil || errors.Is(err, ErrNotFound):
		g.breaker.RecordSuccess()
		outcome := "ok"
		if err != nil {
			outcome = "not_found"
		}
		g.metrics.ObserveUpstream(name, op, outcome, dur)

	case errors.Is(err, context.Canceled):
		// The client went away; says nothing about upstream health.
		g.breaker.Release()
		g.metrics.ObserveUpstream(name, op, "canceled", dur)

	default:
		g.breaker.RecordFailure()
		g.metrics.ObserveUpstream(name, op, "error", dur)
		g.log.WarnContext(ctx, "flight_source_error",
			slog.String("source", name),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}

	g.metrics.SetCircuitBreaker(name, int64(g.breaker.State()))
	return err
}
