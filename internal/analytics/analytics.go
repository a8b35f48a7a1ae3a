// Package analytics implements a non-blocking, batched flight search event
// logger.
//
// Events are written to an internal buffered channel and flushed in batches
// by a background goroutine, so recording never blocks a request. If the
// channel fills up (> 10 000 entries), new events are dropped and counted in
// Dropped.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/HarshitKumar9030/jetvein/internal/metrics"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// Event is one flight lookup.
type Event struct {
	ID           uuid.UUID
	FlightNumber string
	UserID       string
	Source       string
	Cached       bool
	Status       uint16
	LatencyMs    uint32
	CreatedAt    time.Time
}

// Sink receives flushed batches. Write is only called from the logger's
// worker goroutine.
type Sink interface {
	Write(ctx context.Context, events []Event) error
	Close() error
}

type Logger struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped atomic.Int64

	baseCtx context.Context
	sink    Sink
	log     *slog.Logger
	metrics *metrics.Registry
}

func New(ctx context.Context, sink Sink, slogger *slog.Logger, m *metrics.Registry) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("analytics: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.Default()
	}
	if sink == nil {
		sink = NewSlogSink(slogger)
	}

	l := &Logger{
		ch:      make(chan Event, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		sink:    sink,
		log:     slogger,
		metrics: m,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log queues e. It never blocks.
func (l *Logger) Log(e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
		l.metrics.RecordAnalytics("dropped", 1)
	}
}

func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Close flushes queued events, stops the worker and closes the sink.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = l.sink.Close()
	})
	return err
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for i := range batch {
			batch[i].CreatedAt = normalizeTime(batch[i].CreatedAt)
		}

		// The base context may already be cancelled during shutdown; the
		// final flush still gets a bounded window.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(l.baseCtx), 5*time.Second)
		defer cancel()

		if err := l.sink.Write(ctx, batch); err != nil {
			l.metrics.RecordAnalytics("error", len(batch))
			l.log.Warn("analytics_flush_failed",
				slog.Int("events", len(batch)),
				slog.String("error", err.Error()),
			)
		} else {
			l.metrics.RecordAnalytics("ok", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-l.done:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// SlogSink writes each event as a structured log line.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(l *slog.Logger) *SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return &SlogSink{log: l}
}

func (s *SlogSink) Write(ctx context.Context, events []Event) error {
	for _, e := range events {
		s.log.InfoContext(ctx, "flight_search",
			slog.String("id", e.ID.String()),
			slog.String("flight_number", e.FlightNumber),
			slog.String("user_id", e.UserID),
			slog.String("source", e.Source),
			slog.Bool("cached", e.Cached),
			slog.Uint64("status", uint64(e.Status)),
			slog.Uint64("latency_ms", uint64(e.LatencyMs)),
			slog.Time("created_at", e.CreatedAt),
		)
	}
	return nil
}

func (s *SlogSink) Close() error { return nil }
