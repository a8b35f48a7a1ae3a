package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HarshitKumar9030/jetvein/internal/kv"
)

// fixedWindowScript applies one request to a fixed-window counter.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = window in milliseconds
// Returns {allowed (1|0), count after this call, ms until the window resets}.
var fixedWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local limit  = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		local count = tonumber(redis.call('GET', key) or '')
		if count == nil then
			redis.call('SET', key, 1, 'PX', window)
			return {1, 1, window}
		end

		local ttl = redis.call('PTTL', key)
		if ttl < 0 then
			redis.call('PEXPIRE', key, window)
			ttl = window
		end

		if count >= limit then
			return {0, count, ttl}
		end

		count = redis.call('INCR', key)
		return {1, count, ttl}
`)

// FixedWindow is a Limiter whose counters live in the shared store.
// Concurrent calls from any number of instances are serialized by the
// store, so the limit holds cluster-wide.
type FixedWindow struct {
	client *kv.Client
	prefix string
	now    func() time.Time
}

// NewFixedWindow returns a FixedWindow that stores counters under
// prefix+key.
func NewFixedWindow(client *kv.Client, prefix string) *FixedWindow {
	return &FixedWindow{client: client, prefix: prefix, now: time.Now}
}

// Allow applies one request to the window for key. Store failures are
// returned with a fail-open decision so callers may choose to admit.
func (f *FixedWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := f.now()
	if limit <= 0 {
		return Decision{Limit: limit, ResetAt: now.Add(window)}, nil
	}

	res, err := f.client.Eval(ctx, fixedWindowScript,
		[]string{f.prefix + key},
		limit, window.Milliseconds(),
	)
	if err != nil {
		return failOpen(limit, window, now), fmt.Errorf("ratelimit: %w", err)
	}

	vals, ok := res.([]any)
	if !ok || len(vals) != 3 {
		return failOpen(limit, window, now), fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	ttl, _ := vals[2].(int64)

	d := Decision{
		Allowed: allowed == 1,
		Limit:   limit,
		ResetAt: now.Add(time.Duration(ttl) * time.Millisecond),
	}
	if d.Allowed {
		d.Remaining = max(limit-int(count), 0)
	}
	return d, nil
}
