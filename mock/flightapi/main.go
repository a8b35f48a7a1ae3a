// Command flightapi runs a lightweight HTTP mock of the upstream flight data
// API. It serves the static catalogue so JetVein can be exercised end to end
// with FLIGHT_API_URL pointing at it.
//
// Routes:
//
//	GET /flights/{number}
//	GET /aircraft/{registration}/history
//	GET /health
//
// Behaviour flags (via env):
//
//	PORT             listen port (default 19010)
//	MOCK_LATENCY_MS  artificial latency added to every lookup (default 0)
//	MOCK_ERROR_RATE  fraction [0,1] of lookups that return HTTP 500 (default 0)
//	MOCK_API_KEY     when set, lookups require "Authorization: Bearer <key>"
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

// Config holds the mock's runtime behaviour.
type Config struct {
	Port      string
	LatencyMS int
	ErrorRate float64
	APIKey    string
}

func loadConfig() Config {
	c := Config{Port: "19010", APIKey: os.Getenv("MOCK_API_KEY")}

	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	return c
}

func startServer(addr string, h http.Handler, log *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info("mock flight api listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return srv
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	log.Info("starting mock flight api",
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Bool("api_key", cfg.APIKey != ""),
	)

	srv := startServer(":"+cfg.Port, newHandler(cfg, log), log)
	fmt.Println("READY")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("mock flight api stopped")
}
