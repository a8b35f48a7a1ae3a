// Package config loads and validates all runtime configuration for JetVein.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file. A .env file, when present, is loaded
// into the process environment first.
//
// Only SESSION_SECRET is strictly required. Redis and the user database are
// optional; the server degrades the endpoints that need them.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 3000.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// Environment is "development" or "production". Production tightens CORS
	// and marks the session cookie Secure.
	Environment string

	Redis          RedisConfig
	Cache          CacheConfig
	Database       DatabaseConfig
	Session        SessionConfig
	RateLimit      RateLimitConfig
	Flights        FlightsConfig
	CircuitBreaker CircuitBreakerConfig
	Analytics      AnalyticsConfig

	// CORSOrigins is the list of allowed CORS origins. ["*"] allows any.
	CORSOrigins []string

	// HistoryBuffer is the queue size of the asynchronous search history
	// recorder.
	HistoryBuffer int
}

// RedisConfig holds the shared key-value store connection settings.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Empty disables the shared store.
	URL            string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxRetries     int
}

type CacheConfig struct {
	// KeyPrefix namespaces every key JetVein writes. Default: "jetvein:".
	KeyPrefix string

	// ExcludeExact lists flight numbers that are always fetched live.
	ExcludeExact []string
	// ExcludePatterns lists regular expressions over normalized flight
	// numbers that are always fetched live.
	ExcludePatterns []string
}

// DatabaseConfig locates the account store.
type DatabaseConfig struct {
	// URL is memory://, badger:///path, file:///path or a bare directory.
	// Empty disables account endpoints.
	URL string
}

type SessionConfig struct {
	Secret     string
	TTL        time.Duration
	CookieName string
	BcryptCost int
}

// RateLimitRule is one limit/window pair.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig controls per-route request limiting in the gate.
type RateLimitConfig struct {
	Default RateLimitRule
	Auth    RateLimitRule
	Signup  RateLimitRule

	// SweepInterval is how often the in-process fallback limiter drops
	// expired windows.
	SweepInterval time.Duration
}

// FlightsConfig selects the flight data upstream. An empty APIURL uses the
// built-in static catalogue.
type FlightsConfig struct {
	APIURL      string
	APIKey      string
	Timeout     time.Duration
	MockLatency time.Duration
}

// CircuitBreakerConfig controls the flight upstream circuit breaker.
type CircuitBreakerConfig struct {
	ErrorThreshold  int
	TimeWindow      time.Duration
	HalfOpenTimeout time.Duration
}

// AnalyticsConfig configures the search event sink. Empty DSN logs events
// instead of shipping them to ClickHouse.
type AnalyticsConfig struct {
	ClickHouseDSN string
	Table         string
}

// IsProduction reports whether Environment is production.
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := fromViper(v)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 3000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENVIRONMENT", EnvDevelopment)

	v.SetDefault("REDIS_CONNECT_TIMEOUT", "10s")
	v.SetDefault("REDIS_COMMAND_TIMEOUT", "5s")
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("CACHE_KEY_PREFIX", "jetvein:")

	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("SESSION_COOKIE", "jetvein.session-token")
	v.SetDefault("BCRYPT_COST", 12)

	v.SetDefault("RATE_LIMIT_DEFAULT_LIMIT", 100)
	v.SetDefault("RATE_LIMIT_DEFAULT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_AUTH_LIMIT", 20)
	v.SetDefault("RATE_LIMIT_AUTH_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_SIGNUP_LIMIT", 5)
	v.SetDefault("RATE_LIMIT_SIGNUP_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_SWEEP_INTERVAL", "5m")

	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("FLIGHT_API_TIMEOUT", "10s")
	v.SetDefault("FLIGHT_MOCK_LATENCY", "0s")

	v.SetDefault("CB_ERROR_THRESHOLD", 5)
	v.SetDefault("CB_TIME_WINDOW", "60s")
	v.SetDefault("CB_HALF_OPEN_TIMEOUT", "30s")

	v.SetDefault("ANALYTICS_TABLE", "flight_search_events")
	v.SetDefault("HISTORY_BUFFER", 1024)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port:        v.GetInt("PORT"),
		LogLevel:    strings.ToLower(v.GetString("LOG_LEVEL")),
		Environment: strings.ToLower(v.GetString("ENVIRONMENT")),

		Redis: RedisConfig{
			URL:            v.GetString("REDIS_URL"),
			ConnectTimeout: v.GetDuration("REDIS_CONNECT_TIMEOUT"),
			CommandTimeout: v.GetDuration("REDIS_COMMAND_TIMEOUT"),
			MaxRetries:     v.GetInt("REDIS_MAX_RETRIES"),
		},

		Cache: CacheConfig{
			KeyPrefix:       v.GetString("CACHE_KEY_PREFIX"),
			ExcludeExact:    splitList(v.GetStringSlice("CACHE_EXCLUDE")),
			ExcludePatterns: splitList(v.GetStringSlice("CACHE_EXCLUDE_PATTERNS")),
		},

		Database: DatabaseConfig{URL: v.GetString("DATABASE_URL")},

		Session: SessionConfig{
			Secret:     v.GetString("SESSION_SECRET"),
			TTL:        v.GetDuration("SESSION_TTL"),
			CookieName: v.GetString("SESSION_COOKIE"),
			BcryptCost: v.GetInt("BCRYPT_COST"),
		},

		RateLimit: RateLimitConfig{
			Default: RateLimitRule{
				Limit:  v.GetInt("RATE_LIMIT_DEFAULT_LIMIT"),
				Window: v.GetDuration("RATE_LIMIT_DEFAULT_WINDOW"),
			},
			Auth: RateLimitRule{
				Limit:  v.GetInt("RATE_LIMIT_AUTH_LIMIT"),
				Window: v.GetDuration("RATE_LIMIT_AUTH_WINDOW"),
			},
			Signup: RateLimitRule{
				Limit:  v.GetInt("RATE_LIMIT_SIGNUP_LIMIT"),
				Window: v.GetDuration("RATE_LIMIT_SIGNUP_WINDOW"),
			},
			SweepInterval: v.GetDuration("RATE_LIMIT_SWEEP_INTERVAL"),
		},

		Flights: FlightsConfig{
			APIURL:      v.GetString("FLIGHT_API_URL"),
			APIKey:      v.GetString("FLIGHT_API_KEY"),
			Timeout:     v.GetDuration("FLIGHT_API_TIMEOUT"),
			MockLatency: v.GetDuration("FLIGHT_MOCK_LATENCY"),
		},

		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold:  v.GetInt("CB_ERROR_THRESHOLD"),
			TimeWindow:      v.GetDuration("CB_TIME_WINDOW"),
			HalfOpenTimeout: v.GetDuration("CB_HALF_OPEN_TIMEOUT"),
		},

		Analytics: AnalyticsConfig{
			ClickHouseDSN: v.GetString("CLICKHOUSE_DSN"),
			Table:         v.GetString("ANALYTICS_TABLE"),
		},

		CORSOrigins:   splitList(v.GetStringSlice("CORS_ORIGINS")),
		HistoryBuffer: v.GetInt("HISTORY_BUFFER"),
	}
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf(
			"config: invalid ENVIRONMENT %q; must be one of: development, production",
			c.Environment,
		)
	}

	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("config: SESSION_SECRET is required and must be at least 32 characters")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("config: SESSION_TTL must be a positive duration")
	}

	if c.Redis.URL != "" {
		u, err := url.Parse(c.Redis.URL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("config: REDIS_URL must be a redis:// or rediss:// URL")
		}
	}
	if c.Redis.MaxRetries < 0 {
		return fmt.Errorf("config: REDIS_MAX_RETRIES must be ≥ 0, got %d", c.Redis.MaxRetries)
	}

	for name, r := range map[string]RateLimitRule{
		"DEFAULT": c.RateLimit.Default,
		"AUTH":    c.RateLimit.Auth,
		"SIGNUP":  c.RateLimit.Signup,
	} {
		if r.Limit < 1 {
			return fmt.Errorf("config: RATE_LIMIT_%s_LIMIT must be ≥ 1, got %d", name, r.Limit)
		}
		if r.Window <= 0 {
			return fmt.Errorf("config: RATE_LIMIT_%s_WINDOW must be a positive duration", name)
		}
	}

	for _, p := range c.Cache.ExcludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("config: invalid CACHE_EXCLUDE_PATTERNS entry %q: %w", p, err)
		}
	}

	if c.Flights.APIURL != "" {
		u, err := url.Parse(c.Flights.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: FLIGHT_API_URL must be an absolute http(s) URL")
		}
	}

	if c.CircuitBreaker.ErrorThreshold < 1 {
		return fmt.Errorf("config: CB_ERROR_THRESHOLD must be ≥ 1, got %d", c.CircuitBreaker.ErrorThreshold)
	}
	if c.CircuitBreaker.TimeWindow <= 0 {
		return fmt.Errorf("config: CB_TIME_WINDOW must be a positive duration")
	}

	if c.HistoryBuffer < 1 {
		return fmt.Errorf("config: HISTORY_BUFFER must be ≥ 1, got %d", c.HistoryBuffer)
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
