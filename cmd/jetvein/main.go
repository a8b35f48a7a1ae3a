// Command jetvein serves the JetVein flight tracking API.
//
// Configuration comes from the environment, an optional .env file and an
// optional config.yaml (see .env.example). Running with no shared store
// works: caching, sessions and search history are disabled and rate limits
// are counted in-process.
//
//	SESSION_SECRET=$(openssl rand -hex 32) DATABASE_URL=memory:// ./jetvein
//
// "jetvein healthcheck" probes /readiness on the configured port and exits
// non-zero when the instance is not ready. It is meant for container
// HEALTHCHECK directives in images without curl.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/HarshitKumar9030/jetvein/internal/app"
	"github.com/HarshitKumar9030/jetvein/internal/config"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

const healthcheckTimeout = 3 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		if err := healthcheck(cfg.Port); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg.LogLevel).With(slog.String("service", "jetvein"))
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return 1
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// newLogger returns a JSON logger at level. config.Load has already
// rejected unknown level names; anything unparseable falls back to info.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l <= slog.LevelDebug,
	}))
}

func healthcheck(port int) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("http://127.0.0.1:%d/readiness", port))
	if err := fasthttp.DoTimeout(req, resp, healthcheckTimeout); err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return fmt.Errorf("healthcheck: readiness returned %d", code)
	}
	return nil
}
