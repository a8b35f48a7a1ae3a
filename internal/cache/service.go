// Package cache is the JetVein Cache Service: namespaced keys, JSON values
// and the domain helpers (flights, aircraft history, search history, rate
// limits, sessions, counters) built on the Key-Value Client.
//
// Failure policy:
//   - Read paths degrade to "no data" and log. Get reports why through
//     Result.State (Hit, Miss or Corrupt).
//   - Explicit writes (Set, Del, MSet) return an error; the value must be
//     treated as not cached.
//   - Best-effort writes (counters) log and return a zero value.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/HarshitKumar9030/jetvein/internal/kv"
	"github.com/HarshitKumar9030/jetvein/internal/metrics"
	"github.com/HarshitKumar9030/jetvein/internal/ratelimit"
)

const (
	DefaultPrefix = "jetvein:"
	DefaultTTL    = time.Hour
)

// State classifies a Get.
type State int

const (
	Miss State = iota
	Hit
	Corrupt
)

func (s State) String() string {
	switch s {
	case Hit:
		return "hit"
	case Corrupt:
		return "corrupt"
	default:
		return "miss"
	}
}

// Result is the outcome of a Get. Err is set for Corrupt (the decode error)
// and for a Miss caused by a backend failure.
type Result struct {
	State State
	Err   error
}

func (r Result) Hit() bool { return r.State == Hit }

// WriteError is returned when a value could not be stored.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache: write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type options struct {
	ttl    time.Duration
	prefix string
}

// Option adjusts a single call.
type Option func(*options)

// WithTTL overrides the default TTL. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithPrefix replaces the service namespace for this call.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// Options configures a Service.
type Options struct {
	// Prefix namespaces every key. Default: "jetvein:".
	Prefix string

	// DefaultTTL applies to Set calls without WithTTL. Default: 1h.
	DefaultTTL time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Service is safe for concurrent use.
type Service struct {
	client  *kv.Client
	limiter *ratelimit.FixedWindow
	prefix  string
	ttl     time.Duration
	log     *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// New returns a Service over client. The caller owns the client lifecycle.
func New(client *kv.Client, opts Options) *Service {
	s := &Service{
		client:  client,
		prefix:  opts.Prefix,
		ttl:     opts.DefaultTTL,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.limiter = ratelimit.NewFixedWindow(client, s.BuildKey(rateLimitNS, ""))
	return s
}

// BuildKey namespaces raw with prefix, or with the service prefix when
// prefix is empty.
func (s *Service) BuildKey(raw, prefix string) string {
	if prefix == "" {
		prefix = s.prefix
	}
	return prefix + raw
}

func (s *Service) resolve(opts []Option) options {
	o := options{ttl: s.ttl, prefix: s.prefix}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Set stores value as JSON under key. Every entry gets a TTL.
func (s *Service) Set(ctx context.Context, key string, value any, opts ...Option) error {
	o := s.resolve(opts)
	full := o.prefix + key

	data, err := json.Marshal(value)
	if err != nil {
		s.metrics.CacheOp("set", "error")
		return &WriteError{Key: full, Err: err}
	}

	if err := s.client.Set(ctx, full, data, o.ttl); err != nil {
		s.metrics.CacheOp("set", "error")
		s.log.WarnContext(ctx, "cache_set_error",
			slog.String("key", full),
			slog.String("error", err.Error()),
		)
		return &WriteError{Key: full, Err: err}
	}

	s.metrics.CacheOp("set", "ok")
	return nil
}

// Get decodes the JSON stored under key into dst. Corrupt entries are
// reported but left in place.
func (s *Service) Get(ctx context.Context, key string, dst any, opts ...Option) Result {
	o := s.resolve(opts)
	full := o.prefix + key

	raw, ok, err := s.client.Get(ctx, full)
	if err != nil {
		s.metrics.CacheOp("get", "error")
		s.log.WarnContext(ctx, "cache_get_error",
			slog.String("key", full),
			slog.String("error", err.Error()),
		)
		return Result{State: Miss, Err: err}
	}
	if !ok {
		s.metrics.CacheOp("get", "miss")
		return Result{State: Miss}
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		s.metrics.CacheOp("get", "corrupt")
		s.log.WarnContext(ctx, "cache_corrupt_entry",
			slog.String("key", full),
			slog.String("error", err.Error()),
		)
		return Result{State: Corrupt, Err: err}
	}

	s.metrics.CacheOp("get", "hit")
	return Result{State: Hit}
}

// Del removes key. Deleting an absent key is not an error.
func (s *Service) Del(ctx context.Context, key string, opts ...Option) error {
	o := s.resolve(opts)
	full := o.prefix + key

	if _, err := s.client.Del(ctx, full); err != nil {
		s.metrics.CacheOp("del", "error")
		return fmt.Errorf("cache: delete %s: %w", full, err)
	}
	s.metrics.CacheOp("del", "ok")
	return nil
}

// Exists reports false when the key is absent or the store is unreachable.
func (s *Service) Exists(ctx context.Context, key string, opts ...Option) bool {
	o := s.resolve(opts)
	full := o.prefix + key

	ok, err := s.client.Exists(ctx, full)
	if err != nil {
		s.log.WarnContext(ctx, "cache_exists_error",
			slog.String("key", full),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

// Ping reports whether the store answers.
func (s *Service) Ping(ctx context.Context) bool {
	if err := s.client.Ping(ctx); err != nil {
		s.log.WarnContext(ctx, "cache_ping_error", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Stats returns key count and pool statistics for health reporting.
func (s *Service) Stats(ctx context.Context) (kv.Stats, error) {
	return s.client.Stats(ctx)
}

// IsUnavailable reports whether err came from an unreachable store.
func IsUnavailable(err error) bool {
	return errors.Is(err, kv.ErrUnavailable)
}
