package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("SESSION_SECRET", testSecret)
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 3000 || cfg.LogLevel != "info" || cfg.Environment != EnvDevelopment {
		t.Fatalf("unexpected basics: %+v", cfg)
	}
	if cfg.Redis.URL != "" || cfg.Redis.ConnectTimeout != 10*time.Second || cfg.Redis.CommandTimeout != 5*time.Second || cfg.Redis.MaxRetries != 3 {
		t.Fatalf("unexpected redis: %+v", cfg.Redis)
	}
	if cfg.Cache.KeyPrefix != "jetvein:" {
		t.Fatalf("KeyPrefix = %q", cfg.Cache.KeyPrefix)
	}
	if cfg.Session.TTL != 720*time.Hour || cfg.Session.CookieName != "jetvein.session-token" || cfg.Session.BcryptCost != 12 {
		t.Fatalf("unexpected session: %+v", cfg.Session)
	}

	rl := cfg.RateLimit
	if rl.Default != (RateLimitRule{100, 15 * time.Minute}) ||
		rl.Auth != (RateLimitRule{20, 15 * time.Minute}) ||
		rl.Signup != (RateLimitRule{5, 15 * time.Minute}) ||
		rl.SweepInterval != 5*time.Minute {
		t.Fatalf("unexpected rate limits: %+v", rl)
	}

	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"*"}) {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.Flights.Timeout != 10*time.Second || cfg.Flights.APIURL != "" {
		t.Fatalf("unexpected flights: %+v", cfg.Flights)
	}
	if cfg.CircuitBreaker.ErrorThreshold != 5 || cfg.CircuitBreaker.TimeWindow != time.Minute || cfg.CircuitBreaker.HalfOpenTimeout != 30*time.Second {
		t.Fatalf("unexpected breaker: %+v", cfg.CircuitBreaker)
	}
	if cfg.Analytics.Table != "flight_search_events" || cfg.HistoryBuffer != 1024 {
		t.Fatalf("unexpected analytics/history: %+v %d", cfg.Analytics, cfg.HistoryBuffer)
	}
	if cfg.IsProduction() {
		t.Fatal("default environment should not be production")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "8081")
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("RATE_LIMIT_SIGNUP_LIMIT", "2")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FLIGHT_API_URL", "https://flights.example/v1")
	t.Setenv("CACHE_EXCLUDE", "AI202,UK955")
	t.Setenv("CACHE_EXCLUDE_PATTERNS", "^6E")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8081 || !cfg.IsProduction() || cfg.Redis.URL != "redis://localhost:6379/1" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.RateLimit.Signup.Limit != 2 {
		t.Fatalf("Signup.Limit = %d", cfg.RateLimit.Signup.Limit)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Fatalf("CORSOrigins = %v, want %v", cfg.CORSOrigins, want)
	}
	if !reflect.DeepEqual(cfg.Cache.ExcludeExact, []string{"AI202", "UK955"}) ||
		!reflect.DeepEqual(cfg.Cache.ExcludePatterns, []string{"^6E"}) {
		t.Fatalf("cache exclusions = %+v", cfg.Cache)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SESSION_SECRET", "")
	os.Unsetenv("SESSION_SECRET")

	body := "SESSION_SECRET=" + testSecret + "\nLOG_LEVEL=debug\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Session.Secret != testSecret {
		t.Fatalf("dotenv not applied: %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		env  map[string]string
		want string
	}{
		{map[string]string{"SESSION_SECRET": "short"}, "SESSION_SECRET"},
		{map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{map[string]string{"ENVIRONMENT": "staging"}, "ENVIRONMENT"},
		{map[string]string{"REDIS_URL": "http://localhost"}, "REDIS_URL"},
		{map[string]string{"RATE_LIMIT_AUTH_LIMIT": "0"}, "RATE_LIMIT_AUTH_LIMIT"},
		{map[string]string{"FLIGHT_API_URL": "flights.local"}, "FLIGHT_API_URL"},
		{map[string]string{"CB_ERROR_THRESHOLD": "0"}, "CB_ERROR_THRESHOLD"},
		{map[string]string{"HISTORY_BUFFER": "0"}, "HISTORY_BUFFER"},
		{map[string]string{"CACHE_EXCLUDE_PATTERNS": "AI(["}, "CACHE_EXCLUDE_PATTERNS"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList([]string{"a, b", "", " c "})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitList = %v", got)
	}
}
