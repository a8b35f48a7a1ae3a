package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HarshitKumar9030/jetvein/internal/analytics"
	"github.com/HarshitKumar9030/jetvein/internal/auth"
	"github.com/HarshitKumar9030/jetvein/internal/cache"
	"github.com/HarshitKumar9030/jetvein/internal/flights"
	"github.com/HarshitKumar9030/jetvein/internal/gate"
	"github.com/HarshitKumar9030/jetvein/internal/history"
	"github.com/HarshitKumar9030/jetvein/internal/kv"
	"github.com/HarshitKumar9030/jetvein/internal/metrics"
	"github.com/HarshitKumar9030/jetvein/internal/ratelimit"
	"github.com/HarshitKumar9030/jetvein/internal/server"
	"github.com/HarshitKumar9030/jetvein/internal/users"
)

const startupPingTimeout = 5 * time.Second

// initInfra opens the optional stores. An unreachable Redis is logged and
// tolerated: every store-backed path fails open or degrades. A broken
// account store fails startup.
func (a *App) initInfra(ctx context.Context) error {
	if url := a.cfg.Redis.URL; url != "" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(url)))

		client, err := kv.New(kv.Options{
			URL:            url,
			ConnectTimeout: a.cfg.Redis.ConnectTimeout,
			CommandTimeout: a.cfg.Redis.CommandTimeout,
			MaxRetries:     a.cfg.Redis.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.kv = client

		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			a.log.Warn("redis unreachable at startup, continuing degraded",
				slog.String("error", err.Error()),
			)
		} else {
			a.log.Info("redis connected")
		}
	} else {
		a.log.Warn("REDIS_URL not set: caching, sessions and search history disabled")
	}

	if url := a.cfg.Database.URL; url != "" {
		st, err := users.Open(url)
		if err != nil {
			return fmt.Errorf("account store: %w", err)
		}
		a.users = st
		a.log.Info("account store opened", slog.String("url", redactURL(url)))
	} else {
		a.log.Warn("DATABASE_URL not set: account endpoints disabled")
	}

	return nil
}

// initServices builds the metrics registry and everything that sits between
// the handlers and the stores.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	if a.kv != nil {
		a.cache = cache.New(a.kv, cache.Options{
			Prefix:  a.cfg.Cache.KeyPrefix,
			Logger:  a.log,
			Metrics: a.prom,
		})
		el, err := cache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return err
		}
		if el.Len() > 0 {
			a.exclusions = el
			a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
		}
		a.recorder = history.New(a.cache, history.Options{
			Buffer:  a.cfg.HistoryBuffer,
			Logger:  a.log,
			Metrics: a.prom,
		})
	}

	a.source = flights.NewGuarded(a.buildSource(), flights.GuardedOptions{
		Breaker: flights.BreakerConfig{
			ErrorThreshold:  a.cfg.CircuitBreaker.ErrorThreshold,
			TimeWindow:      a.cfg.CircuitBreaker.TimeWindow,
			HalfOpenTimeout: a.cfg.CircuitBreaker.HalfOpenTimeout,
		},
		Timeout: a.cfg.Flights.Timeout,
		Metrics: a.prom,
		Logger:  a.log,
	})

	var sink analytics.Sink
	if dsn := a.cfg.Analytics.ClickHouseDSN; dsn != "" {
		ch, err := analytics.NewClickHouseSink(ctx, dsn, a.cfg.Analytics.Table)
		if err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
		sink = ch
		a.log.Info("analytics sink: clickhouse", slog.String("table", a.cfg.Analytics.Table))
	} else {
		a.log.Info("analytics sink: log")
	}

	events, err := analytics.New(a.baseCtx, sink, a.log, a.prom)
	if err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return err
	}
	a.events = events

	return nil
}

func (a *App) buildSource() flights.Source {
	if a.cfg.Flights.APIURL == "" {
		a.log.Info("flight source: static catalogue")
		var opts []flights.StaticOption
		if a.cfg.Flights.MockLatency > 0 {
			opts = append(opts, flights.WithLatency(a.cfg.Flights.MockLatency))
		}
		return flights.NewStaticSource(opts...)
	}

	a.log.Info("flight source: http", slog.String("url", redactURL(a.cfg.Flights.APIURL)))
	opts := []flights.HTTPOption{flights.WithTimeout(a.cfg.Flights.Timeout)}
	if a.cfg.Flights.APIKey != "" {
		opts = append(opts, flights.WithAPIKey(a.cfg.Flights.APIKey))
	}
	return flights.NewHTTPSource(a.cfg.Flights.APIURL, opts...)
}

// initServer wires the token manager, request gate, health checker and
// routes together.
func (a *App) initServer(_ context.Context) error {
	tokens, err := auth.NewTokenManager(a.cfg.Session.Secret, a.cfg.Session.TTL, a.cfg.Session.CookieName)
	if err != nil {
		return err
	}

	// The shared store keeps limits consistent across instances. Without
	// it each process counts on its own.
	var limiter ratelimit.Limiter
	if a.cache != nil {
		limiter = a.cache.Limiter()
	} else {
		a.local = ratelimit.NewLocal(a.baseCtx, a.cfg.RateLimit.SweepInterval)
		limiter = a.local
		a.log.Info("rate limiting: in-process")
	}

	rl := a.cfg.RateLimit
	g := gate.New(gate.Options{
		Limiter: limiter,
		Policy: ratelimit.Policy{
			Exact:    map[string]ratelimit.Rule{"/api/auth/signup": {Limit: rl.Signup.Limit, Window: rl.Signup.Window}},
			Prefixes: map[string]ratelimit.Rule{"/api/auth/": {Limit: rl.Auth.Limit, Window: rl.Auth.Window}},
			Default:  ratelimit.Rule{Limit: rl.Default.Limit, Window: rl.Default.Window},
		},
		Tokens:      tokens,
		CORSOrigins: a.cfg.CORSOrigins,
		Production:  a.cfg.IsProduction(),
		Logger:      a.log,
		Metrics:     a.prom,
	})

	a.health = server.NewHealthChecker(a.baseCtx, server.HealthDeps{
		Users:       a.users,
		KV:          a.kv,
		Flights:     a.source,
		Environment: a.cfg.Environment,
		Version:     a.version,
	}, a.prom)

	a.srv = server.New(server.Deps{
		Cache:           a.cache,
		CacheExclusions: a.exclusions,
		Users:           a.users,
		Tokens:          tokens,
		Flights:         a.source,
		Recorder:        a.recorder,
		Analytics:       a.events,
		Health:          a.health,
		Gate:            g,
		Metrics:         a.prom,
		Logger:          a.log,
		BcryptCost:      a.cfg.Session.BcryptCost,
		SecureCookies:   a.cfg.IsProduction(),
	})

	return nil
}
