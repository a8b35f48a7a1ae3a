package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/HarshitKumar9030/jetvein/internal/kv"
)

// Entry is one MSet item. A zero TTL stores the value without expiry.
type Entry struct {
	Key   string
	Value any
	TTL   time.Duration
}

// MGet fetches keys in one round trip. The result has one element per key:
// the raw JSON value, or nil when the key is absent or holds invalid JSON.
// A store failure yields all nils.
func (s *Service) MGet(ctx context.Context, keys []string, prefix string) []json.RawMessage {
	out := make([]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.BuildKey(k, prefix)
	}

	vals, err := s.client.MGet(ctx, full...)
	if err != nil {
		s.log.WarnContext(ctx, "cache_mget_error",
			slog.Int("keys", len(keys)),
			slog.String("error", err.Error()),
		)
		return out
	}

	for i, v := range vals {
		if v != nil && json.Valid(v) {
			out[i] = json.RawMessage(v)
		}
	}
	return out
}

// MSet stores all entries in one atomic pipeline. Either every entry is
// written or the call returns a *WriteError.
func (s *Service) MSet(ctx context.Context, entries []Entry, prefix string) error {
	if len(entries) == 0 {
		return nil
	}

	type encoded struct {
		key  string
		data []byte
		ttl  time.Duration
	}
	batch := make([]encoded, 0, len(entries))
	for _, e := range entries {
		key := s.BuildKey(e.Key, prefix)
		data, err := json.Marshal(e.Value)
		if err != nil {
			return &WriteError{Key: key, Err: err}
		}
		batch = append(batch, encoded{key: key, data: data, ttl: e.TTL})
	}

	err := s.client.Pipeline(ctx, func(b *kv.Batch) error {
		for _, e := range batch {
			b.Set(e.key, e.data, e.ttl)
		}
		return nil
	})
	if err != nil {
		s.metrics.CacheOp("mset", "error")
		s.log.WarnContext(ctx, "cache_mset_error",
			slog.Int("keys", len(entries)),
			slog.String("error", err.Error()),
		)
		return &WriteError{Key: batch[0].key, Err: err}
	}

	s.metrics.CacheOp("mset", "ok")
	return nil
}

// ClearPattern deletes every key matching the namespaced glob pattern and
// returns how many were removed. Failures are logged and reported as 0.
func (s *Service) ClearPattern(ctx context.Context, pattern string) int64 {
	match := s.BuildKey(pattern, "")

	keys, err := s.client.Keys(ctx, match)
	if err != nil {
		s.log.WarnContext(ctx, "cache_clear_pattern_error",
			slog.String("pattern", match),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	n, err := s.client.Del(ctx, keys...)
	if err != nil {
		s.log.WarnContext(ctx, "cache_clear_pattern_error",
			slog.String("pattern", match),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return n
}
