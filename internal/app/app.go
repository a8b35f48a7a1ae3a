// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra: shared store (Redis) and account store (Badger)
//  2. initServices: metrics, cache service, flight source, analytics,
//     history recorder
//  3. initServer: tokens, request gate, health checker, HTTP routes
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HarshitKumar9030/jetvein/internal/analytics"
	"github.com/HarshitKumar9030/jetvein/internal/cache"
	"github.com/HarshitKumar9030/jetvein/internal/config"
	"github.com/HarshitKumar9030/jetvein/internal/flights"
	"github.com/HarshitKumar9030/jetvein/internal/history"
	"github.com/HarshitKumar9030/jetvein/internal/kv"
	"github.com/HarshitKumar9030/jetvein/internal/metrics"
	"github.com/HarshitKumar9030/jetvein/internal/ratelimit"
	"github.com/HarshitKumar9030/jetvein/internal/server"
	"github.com/HarshitKumar9030/jetvein/internal/users"
)

const shutdownTimeout = 10 * time.Second

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional stores, nil when not configured.
	kv         *kv.Client
	cache      *cache.Service
	exclusions *cache.ExclusionList
	users      *users.Store

	prom      *metrics.Registry
	source    flights.Source
	events    *analytics.Logger
	recorder  *history.Recorder
	local     *ratelimit.Local
	health    *server.HealthChecker
	srv       *server.Server
	closeOnce sync.Once
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts the
// server down and closes the app.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting jetvein",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("environment", a.cfg.Environment),
		slog.Bool("shared_store", a.kv != nil),
		slog.Bool("account_store", a.users != nil),
		slog.String("flight_source", a.source.Name()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.ListenAndServe(addr)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := a.srv.Shutdown(shutdownCtx)
		a.Close()
		if err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.log.Error("history recorder close error", slog.String("error", err.Error()))
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Error("analytics close error", slog.String("error", err.Error()))
		}
	}
	if a.local != nil {
		a.local.Close()
	}
	if a.health != nil {
		a.health.Close()
	}
	if a.users != nil {
		if err := a.users.Close(); err != nil {
			a.log.Error("account store close error", slog.String("error", err.Error()))
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
	}
}

// Server returns the HTTP server.
func (a *App) Server() *server.Server { return a.srv }

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" becomes "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
