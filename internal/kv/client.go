// Package kv is the thin Key-Value Client over Redis.
//
// It owns the connection pool and exposes the primitive commands the cache
// layer needs. It knows nothing about key naming or value encoding; callers
// pass raw keys and raw bytes.
//
// Connections are opened lazily on the first command and re-established
// automatically by go-redis. Every failure other than "key absent" is
// returned as an *OpError, which matches ErrUnavailable.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 5 * time.Second
	DefaultMaxRetries     = 3
)

// ErrUnavailable is matched by every error returned from a Client command.
var ErrUnavailable = errors.New("kv: store unavailable")

// OpError describes a failed command. It unwraps to both ErrUnavailable and
// the underlying cause, so errors.Is works for either.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("kv: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Options configures a Client.
type Options struct {
	// URL is a redis:// or rediss:// URL. Required.
	URL string

	// ConnectTimeout bounds dialing a new connection. Default: 10s.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each socket read and write. Default: 5s.
	CommandTimeout time.Duration

	// MaxRetries is the number of retries per command. Default: 3.
	MaxRetries int
}

// Client is safe for concurrent use. Construct one per process and share it.
type Client struct {
	rdb *redis.Client
}

// New parses opts.URL and builds a pooled client. No connection is made
// until the first command.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("kv: url is required")
	}

	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("kv: parse url: %w", err)
	}

	ro.DialTimeout = orDuration(opts.ConnectTimeout, DefaultConnectTimeout)
	ro.ReadTimeout = orDuration(opts.CommandTimeout, DefaultCommandTimeout)
	ro.WriteTimeout = ro.ReadTimeout
	ro.MaxRetries = DefaultMaxRetries
	if opts.MaxRetries > 0 {
		ro.MaxRetries = opts.MaxRetries
	}
	ro.MinRetryBackoff = 50 * time.Millisecond
	ro.MaxRetryBackoff = 2 * time.Second

	return &Client{rdb: redis.NewClient(ro)}, nil
}

// NewFromClient wraps an existing go-redis client. The caller keeps
// ownership of its configuration; Close still closes it.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Get returns the raw value for key. ok is false when the key is absent.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, opErr("GET", err)
	}
	return val, true, nil
}

// Set stores value under key. A ttl of 0 stores the key without expiry.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return opErr("SET", err)
	}
	return nil
}

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, opErr("DEL", err)
	}
	return n, nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, opErr("EXISTS", err)
	}
	return n > 0, nil
}

// IncrBy atomically adds delta to the integer stored at key, creating it at 0
// first when absent, and returns the new value.
func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, opErr("INCRBY", err)
	}
	return n, nil
}

// LPush prepends values to the list at key.
func (c *Client) LPush(ctx context.Context, key string, values ...[]byte) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := c.rdb.LPush(ctx, key, args...).Err(); err != nil {
		return opErr("LPUSH", err)
	}
	return nil
}

// LRange returns the list elements between start and stop inclusive.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, opErr("LRANGE", err)
	}
	return vals, nil
}

func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := c.rdb.LTrim(ctx, key, start, stop).Err(); err != nil {
		return opErr("LTRIM", err)
	}
	return nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return opErr("EXPIRE", err)
	}
	return nil
}

// MGet fetches keys in one round trip. Absent keys yield a nil element.
func (c *Client) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, opErr("MGET", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// Keys returns every key matching the glob pattern. It iterates with SCAN so
// a large keyspace never blocks the server.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, opErr("SCAN", err)
	}
	return keys, nil
}

// Pipeline queues the commands added by fn and executes them atomically
// (MULTI/EXEC) in a single round trip.
func (c *Client) Pipeline(ctx context.Context, fn func(*Batch) error) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return fn(&Batch{ctx: ctx, p: p})
	})
	if err != nil {
		return opErr("EXEC", err)
	}
	return nil
}

// Eval runs a server-side script atomically and returns its raw reply.
func (c *Client) Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	res, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return nil, opErr("EVALSHA", err)
	}
	return res, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return opErr("PING", err)
	}
	return nil
}

// Stats is a point-in-time view of the store and the local pool.
type Stats struct {
	Keys       int64  `json:"keys"`
	TotalConns uint32 `json:"totalConns"`
	IdleConns  uint32 `json:"idleConns"`
	Hits       uint32 `json:"poolHits"`
	Misses     uint32 `json:"poolMisses"`
	Timeouts   uint32 `json:"poolTimeouts"`
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	ps := c.rdb.PoolStats()
	st := Stats{
		TotalConns: ps.TotalConns,
		IdleConns:  ps.IdleConns,
		Hits:       ps.Hits,
		Misses:     ps.Misses,
		Timeouts:   ps.Timeouts,
	}

	n, err := c.rdb.DBSize(ctx).Result()
	if err != nil {
		return st, opErr("DBSIZE", err)
	}
	st.Keys = n
	return st, nil
}

// Close releases the pool. Commands issued afterwards fail.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Batch collects commands for Pipeline. Errors surface from Pipeline itself.
type Batch struct {
	ctx context.Context
	p   redis.Pipeliner
}

func (b *Batch) Set(key string, value []byte, ttl time.Duration) {
	b.p.Set(b.ctx, key, value, ttl)
}

func (b *Batch) Del(keys ...string) {
	b.p.Del(b.ctx, keys...)
}

func (b *Batch) LPush(key string, value []byte) {
	b.p.LPush(b.ctx, key, value)
}

func (b *Batch) LTrim(key string, start, stop int64) {
	b.p.LTrim(b.ctx, key, start, stop)
}

func (b *Batch) Expire(key string, ttl time.Duration) {
	b.p.Expire(b.ctx, key, ttl)
}

func opErr(op string, err error) error {
	return &OpError{Op: op, Err: err}
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
