// Package history records user search terms without blocking the request
// that produced them.
//
// Record enqueues onto a bounded channel and returns immediately. A single
// worker performs each write once, with a timeout. Entries that do not fit
// in the queue are dropped and counted; failed writes are counted and
// reported, never retried.
package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HarshitKumar9030/jetvein/internal/metrics"
)

const (
	DefaultBuffer       = 1024
	DefaultWriteTimeout = 2 * time.Second
)

// Writer persists one search entry.
type Writer interface {
	AddSearchHistory(ctx context.Context, userID, term string) error
}

type entry struct {
	userID string
	term   string
}

type Options struct {
	Buffer       int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Registry
	// OnError is called from the worker goroutine after a failed write.
	OnError func(userID, term string, err error)
}

type Recorder struct {
	w       Writer
	ch      chan entry
	done    chan struct{}
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Registry
	onError func(userID, term string, err error)

	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
	written atomic.Int64
}

func New(w Writer, opts Options) *Recorder {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Recorder{
		w:       w,
		ch:      make(chan entry, opts.Buffer),
		done:    make(chan struct{}),
		timeout: opts.WriteTimeout,
		log:     opts.Logger,
		metrics: opts.Metrics,
		onError: opts.OnError,
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record queues a search term for userID. It reports false when the entry
// was dropped because the queue is full or the recorder is closed.
func (r *Recorder) Record(userID, term string) bool {
	select {
	case <-r.done:
		r.drop()
		return false
	default:
	}

	select {
	case r.ch <- entry{userID: userID, term: term}:
		return true
	default:
		r.drop()
		return false
	}
}

func (r *Recorder) Dropped() int64 { return r.dropped.Load() }
func (r *Recorder) Failed() int64 { return r.failed.Load() }
func (r *Recorder) Written() int64 { return r.written.Load() }

// Close stops accepting entries, drains the queue and waits for the worker.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

func (r *Recorder) drop() {
	r.dropped.Add(1)
	r.metrics.RecordHistoryWrite("dropped")
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case e := <-r.ch:
			r.write(e)

		case <-r.done:
			for {
				select {
				case e := <-r.ch:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.w.AddSearchHistory(ctx, e.userID, e.term); err != nil {
		r.failed.Add(1)
		r.metrics.RecordHistoryWrite("error")
		r.log.Warn("search_history_write_failed",
			slog.String("user_id", e.userID),
			slog.String("error", err.Error()),
		)
		if r.onError != nil {
			r.onError(e.userID, e.term, err)
		}
		return
	}

	r.written.Add(1)
	r.metrics.RecordHistoryWrite("ok")
}
