package cache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/HarshitKumar9030/jetvein/internal/flights"
	"github.com/HarshitKumar9030/jetvein/internal/kv"
	"github.com/HarshitKumar9030/jetvein/internal/ratelimit"
)

const (
	FlightTTL        = 30 * time.Minute
	AircraftTTL      = 2 * time.Hour
	SessionTTL       = 24 * time.Hour
	SearchHistoryTTL = 30 * 24 * time.Hour

	// SearchHistoryMax is the number of entries kept per user.
	SearchHistoryMax = 20
	// DefaultHistoryLimit is used when a caller passes a non-positive limit.
	DefaultHistoryLimit = 10

	flightNS    = "flight:"
	aircraftNS  = "aircraft:"
	historyNS   = "search_history:"
	rateLimitNS = "rate_limit:"
	sessionNS   = "session:"
	counterNS   = "counter:"
)

// SearchEntry is one element of a user's search history. Timestamp is epoch
// milliseconds.
type SearchEntry struct {
	Term      string `json:"term"`
	Timestamp int64  `json:"timestamp"`
}

// CacheFlightData stores a flight under its upper-cased number for 30 minutes.
func (s *Service) CacheFlightData(ctx context.Context, number string, f *flights.Flight) error {
	return s.Set(ctx, flightNS+flights.NormalizeNumber(number), f, WithTTL(FlightTTL))
}

// GetFlightData looks a flight up by number, case-insensitively.
func (s *Service) GetFlightData(ctx context.Context, number string) (*flights.Flight, Result) {
	var f flights.Flight
	res := s.Get(ctx, flightNS+flights.NormalizeNumber(number), &f)
	if !res.Hit() {
		return nil, res
	}
	return &f, res
}

// CacheAircraftHistory stores an airframe history for 2 hours.
func (s *Service) CacheAircraftHistory(ctx context.Context, registration string, h *flights.AircraftHistory) error {
	return s.Set(ctx, aircraftNS+flights.NormalizeNumber(registration), h, WithTTL(AircraftTTL))
}

func (s *Service) GetAircraftHistory(ctx context.Context, registration string) (*flights.AircraftHistory, Result) {
	var h flights.AircraftHistory
	res := s.Get(ctx, aircraftNS+flights.NormalizeNumber(registration), &h)
	if !res.Hit() {
		return nil, res
	}
	return &h, res
}

// AddSearchHistory prepends term to the user's history, keeps the newest 20
// entries and restarts the 30-day expiry. The three steps run as one atomic
// pipeline. A failure is logged and returned; nothing is retried.
func (s *Service) AddSearchHistory(ctx context.Context, userID, term string) error {
	key := s.BuildKey(historyNS+userID, "")

	entry, err := json.Marshal(SearchEntry{Term: term, Timestamp: s.now().UnixMilli()})
	if err != nil {
		return &WriteError{Key: key, Err: err}
	}

	err = s.client.Pipeline(ctx, func(b *kv.Batch) error {
		b.LPush(key, entry)
		b.LTrim(key, 0, SearchHistoryMax-1)
		b.Expire(key, SearchHistoryTTL)
		return nil
	})
	if err != nil {
		s.metrics.CacheOp("history_add", "error")
		s.log.WarnContext(ctx, "cache_search_history_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return &WriteError{Key: key, Err: err}
	}

	s.metrics.CacheOp("history_add", "ok")
	return nil
}

// GetSearchHistory returns up to limit entries, newest first. Unreadable
// entries are skipped. Store failures yield an empty slice.
func (s *Service) GetSearchHistory(ctx context.Context, userID string, limit int) []SearchEntry {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > SearchHistoryMax {
		limit = SearchHistoryMax
	}
	key := s.BuildKey(historyNS+userID, "")

	raw, err := s.client.LRange(ctx, key, 0, int64(limit-1))
	if err != nil {
		s.log.WarnContext(ctx, "cache_get_search_history_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return []SearchEntry{}
	}

	out := make([]SearchEntry, 0, len(raw))
	for _, r := range raw {
		var e SearchEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			s.log.WarnContext(ctx, "cache_corrupt_history_entry",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, e)
	}
	return out
}

// ClearSearchHistory removes the user's history list.
func (s *Service) ClearSearchHistory(ctx context.Context, userID string) error {
	return s.Del(ctx, historyNS+userID)
}

// CheckRateLimit applies one request to the fixed window for identifier.
// The decision is made atomically in the store. When the store cannot be
// reached the request is allowed with limit-1 remaining.
func (s *Service) CheckRateLimit(ctx context.Context, identifier string, limit int, window time.Duration) ratelimit.Decision {
	d, err := s.limiter.Allow(ctx, identifier, limit, window)
	if err != nil {
		s.metrics.RecordRateLimit("cache", "error")
		s.log.WarnContext(ctx, "cache_rate_limit_error",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return d
	}
	if d.Allowed {
		s.metrics.RecordRateLimit("cache", "allowed")
	} else {
		s.metrics.RecordRateLimit("cache", "limited")
	}
	return d
}

// Limiter exposes the store-backed limiter so every entry point shares the
// same counters.
func (s *Service) Limiter() ratelimit.Limiter {
	return s.limiter
}

// CreateSession stores an opaque session record. A non-positive ttl uses
// SessionTTL.
func (s *Service) CreateSession(ctx context.Context, id string, data any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return s.Set(ctx, sessionNS+id, data, WithTTL(ttl))
}

func (s *Service) GetSession(ctx context.Context, id string, dst any) Result {
	return s.Get(ctx, sessionNS+id, dst)
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	return s.Del(ctx, sessionNS+id)
}

// IncrementCounter adds delta to a named counter and returns the new value,
// or 0 when the store is unreachable. Counters never expire.
func (s *Service) IncrementCounter(ctx context.Context, name string, delta int64) int64 {
	key := s.BuildKey(counterNS+name, "")
	n, err := s.client.IncrBy(ctx, key, delta)
	if err != nil {
		s.log.WarnContext(ctx, "cache_increment_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return n
}

// GetCounter returns the counter value, 0 when absent or unreadable.
func (s *Service) GetCounter(ctx context.Context, name string) int64 {
	key := s.BuildKey(counterNS+name, "")
	raw, ok, err := s.client.Get(ctx, key)
	if err != nil {
		s.log.WarnContext(ctx, "cache_get_counter_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
