package server

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/HarshitKumar9030/jetvein/internal/flights"
	"github.com/HarshitKumar9030/jetvein/internal/kv"
	"github.com/HarshitKumar9030/jetvein/internal/metrics"
	"github.com/HarshitKumar9030/jetvein/internal/users"
)

const (
	healthProbeInterval = 30 * time.Second
	healthProbeTimeout  = 5 * time.Second
)

// Component states.
const (
	StatusOK            = "ok"
	StatusDown          = "down"
	StatusNotConfigured = "not_configured"
	StatusUnknown       = "unknown"
)

// Overall states.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// ComponentHealth is the last probe result for one dependency.
type ComponentHealth struct {
	Status    string    `json:"status"`
	Connected bool      `json:"connected"`
	Error     string    `json:"error,omitempty"`
	Stats     any       `json:"stats,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

type componentStatus struct {
	mu sync.RWMutex
	v  ComponentHealth
}

func (s *componentStatus) set(v ComponentHealth) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

func (s *componentStatus) get() ComponentHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.v.Status == "" {
		return ComponentHealth{Status: StatusUnknown}
	}
	return s.v
}

// HealthDeps lists the probed dependencies. A nil field means the
// dependency is not configured.
type HealthDeps struct {
	Users   *users.Store
	KV      *kv.Client
	Flights flights.Source

	Environment string
	Version     string
}

// HealthChecker runs background probes and exposes the latest results.
type HealthChecker struct {
	deps    HealthDeps
	baseCtx context.Context
	metrics *metrics.Registry

	database componentStatus
	redis    componentStatus
	upstream componentStatus

	startTime time.Time
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHealthChecker probes once synchronously, then every 30 seconds until
// Close.
func NewHealthChecker(ctx context.Context, deps HealthDeps, met *metrics.Registry) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		deps:      deps,
		baseCtx:   ctx,
		metrics:   met,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

type (
	// HealthReport is the body of GET /api/health.
	HealthReport struct {
		Status      string          `json:"status"`
		Timestamp   time.Time       `json:"timestamp"`
		Services    ServicesHealth  `json:"services"`
		Environment EnvironmentInfo `json:"environment"`
	}

	ServicesHealth struct {
		Database ComponentHealth `json:"database"`
		Redis    ComponentHealth `json:"redis"`
		Flights  ComponentHealth `json:"flights"`
		API      APIHealth       `json:"api"`
	}

	APIHealth struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime"`
		Goroutines    int     `json:"goroutines"`
		HeapAllocMB   float64 `json:"heapAllocMB"`
		SysMB         float64 `json:"sysMB"`
		NumGC         uint32  `json:"numGC"`
		Version       string  `json:"version"`
	}

	EnvironmentInfo struct {
		Environment string `json:"environment"`
		GoVersion   string `json:"goVersion"`
		Platform    string `json:"platform"`
		Arch        string `json:"arch"`
		Hostname    string `json:"hostname,omitempty"`
	}
)

// Snapshot builds a report from the latest probe results. The database
// decides between healthy and unhealthy; a down Redis or flight source only
// degrades.
func (hc *HealthChecker) Snapshot() HealthReport {
	db := hc.database.get()
	rd := hc.redis.get()
	fl := hc.upstream.get()

	overall := Healthy
	if rd.Status == StatusDown || fl.Status == StatusDown {
		overall = Degraded
	}
	if db.Status != StatusOK {
		overall = Unhealthy
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	host, _ := os.Hostname()

	return HealthReport{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Services: ServicesHealth{
			Database: db,
			Redis:    rd,
			Flights:  fl,
			API: APIHealth{
				Status:        StatusOK,
				UptimeSeconds: time.Since(hc.startTime).Seconds(),
				Goroutines:    runtime.NumGoroutine(),
				HeapAllocMB:   float64(ms.HeapAlloc) / (1 << 20),
				SysMB:         float64(ms.Sys) / (1 << 20),
				NumGC:         ms.NumGC,
				Version:       hc.deps.Version,
			},
		},
		Environment: EnvironmentInfo{
			Environment: hc.deps.Environment,
			GoVersion:   runtime.Version(),
			Platform:    runtime.GOOS,
			Arch:        runtime.GOARCH,
			Hostname:    host,
		},
	}
}

// ReadinessOK reports whether the account store is reachable.
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.database.get().Status == StatusOK
}

// Close stops the background probe goroutine. Safe to call more than once.
func (hc *HealthChecker) Close() {
	hc.closeOnce.Do(func() {
		close(hc.done)
		hc.wg.Wait()
	})
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		case <-hc.baseCtx.Done():
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		hc.database.set(hc.probeDatabase(ctx))
	}()
	go func() {
		defer wg.Done()
		hc.redis.set(hc.probeRedis(ctx))
	}()
	go func() {
		defer wg.Done()
		hc.upstream.set(hc.probeFlights(ctx))
	}()
	wg.Wait()
}

func (hc *HealthChecker) probeDatabase(ctx context.Context) ComponentHealth {
	now := time.Now().UTC()
	if hc.deps.Users == nil {
		hc.metrics.SetDependencyHealth("database", false)
		return ComponentHealth{Status: StatusNotConfigured, Error: "DATABASE_URL is not set", CheckedAt: now}
	}
	if err := hc.deps.Users.Ping(ctx); err != nil {
		hc.metrics.SetDependencyHealth("database", false)
		return ComponentHealth{Status: StatusDown, Error: err.Error(), CheckedAt: now}
	}
	hc.metrics.SetDependencyHealth("database", true)

	ch := ComponentHealth{Status: StatusOK, Connected: true, CheckedAt: now}
	if st, err := hc.deps.Users.Stats(ctx); err == nil {
		ch.Stats = st
	}
	return ch
}

func (hc *HealthChecker) probeRedis(ctx context.Context) ComponentHealth {
	now := time.Now().UTC()
	if hc.deps.KV == nil {
		return ComponentHealth{Status: StatusNotConfigured, CheckedAt: now}
	}
	if err := hc.deps.KV.Ping(ctx); err != nil {
		hc.metrics.SetDependencyHealth("redis", false)
		return ComponentHealth{Status: StatusDown, Error: err.Error(), CheckedAt: now}
	}
	hc.metrics.SetDependencyHealth("redis", true)

	ch := ComponentHealth{Status: StatusOK, Connected: true, CheckedAt: now}
	if st, err := hc.deps.KV.Stats(ctx); err == nil {
		ch.Stats = st
	}
	return ch
}

type flightsStats struct {
	Source  string `json:"source"`
	Breaker string `json:"circuitBreaker,omitempty"`
}

func (hc *HealthChecker) probeFlights(ctx context.Context) ComponentHealth {
	now := time.Now().UTC()
	if hc.deps.Flights == nil {
		return ComponentHealth{Status: StatusNotConfigured, CheckedAt: now}
	}

	st := flightsStats{Source: hc.deps.Flights.Name()}
	if g, ok := hc.deps.Flights.(*flights.Guarded); ok {
		st.Breaker = g.BreakerState().String()
	}

	if err := hc.deps.Flights.HealthCheck(ctx); err != nil {
		hc.metrics.SetDependencyHealth("flights", false)
		return ComponentHealth{Status: StatusDown, Error: err.Error(), Stats: st, CheckedAt: now}
	}
	hc.metrics.SetDependencyHealth("flights", true)
	return ComponentHealth{Status: StatusOK, Connected: true, Stats: st, CheckedAt: now}
}
