// Package server exposes the JetVein HTTP API on fasthttp.
//
// Every request passes through the request gate (security headers, rate
// limiting, auth gating, CORS) before it reaches a route handler. Optional
// dependencies may be nil:
//
//   - no Cache: flight lookups bypass the cache, session and history
//     endpoints answer 503 CONFIG_ERROR
//   - no Users: account endpoints answer 500 CONFIG_ERROR and health reports
//     unhealthy
package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"github.com/HarshitKumar9030/jetvein/internal/analytics"
	"github.com/HarshitKumar9030/jetvein/internal/auth"
	"github.com/HarshitKumar9030/jetvein/internal/cache"
	"github.com/HarshitKumar9030/jetvein/internal/flights"
	"github.com/HarshitKumar9030/jetvein/internal/gate"
	"github.com/HarshitKumar9030/jetvein/internal/history"
	"github.com/HarshitKumar9030/jetvein/internal/metrics"
	"github.com/HarshitKumar9030/jetvein/internal/users"
	"github.com/HarshitKumar9030/jetvein/pkg/apierr"
)

// Deps holds everything the handlers use.
type Deps struct {
	Cache *cache.Service
	// CacheExclusions lists flights that always bypass the cache.
	CacheExclusions *cache.ExclusionList

	Users     *users.Store
	Tokens    *auth.TokenManager
	Flights   flights.Source
	Recorder  *history.Recorder
	Analytics *analytics.Logger
	Health    *HealthChecker
	Gate      *gate.Gate
	Metrics   *metrics.Registry
	Logger    *slog.Logger

	BcryptCost int
	// SecureCookies sets the Secure attribute on the session cookie.
	SecureCookies bool
}

type Server struct {
	deps Deps
	log  *slog.Logger
	srv  *fasthttp.Server
	now  func() time.Time
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.BcryptCost == 0 {
		deps.BcryptCost = auth.DefaultBcryptCost
	}
	if deps.Gate == nil {
		deps.Gate = gate.New(gate.Options{Tokens: deps.Tokens, Logger: deps.Logger, Metrics: deps.Metrics})
	}

	s := &Server{deps: deps, log: deps.Logger, now: time.Now}
	s.srv = &fasthttp.Server{
		Handler:      s.Handler(),
		Name:         "jetvein",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		Logger:       slog.NewLogLogger(deps.Logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	r.SaveMatchedRoutePath = true

	r.POST("/api/auth/signup", s.handleSignup)
	r.GET("/api/auth/signup", s.handleEmailAvailability)
	r.POST("/api/auth/signin", s.handleSignin)
	r.POST("/api/auth/signout", s.handleSignout)
	r.GET("/api/user/session", s.handleSession)

	r.GET("/api/flights/search", s.handleFlightSearch)
	r.POST("/api/flights/search", s.handleFlightSearchPost)
	r.DELETE("/api/flights/cache", s.handleClearFlightCache)
	r.GET("/api/aircraft/history", s.handleAircraftHistory)

	r.GET("/api/user/search-history", s.handleGetHistory)
	r.POST("/api/user/search-history", s.handleAddHistory)
	r.DELETE("/api/user/search-history", s.handleClearHistory)

	r.GET("/api/stats", s.handleStats)
	r.GET("/api/health", s.handleHealth)
	r.GET("/readiness", s.handleReadiness)
	if s.deps.Metrics != nil {
		r.GET("/metrics", s.deps.Metrics.Handler())
	}

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		apierr.Write(ctx, fasthttp.StatusNotFound, "Not found", apierr.CodeNotFound)
	}
	r.MethodNotAllowed = func(ctx *fasthttp.RequestCtx) {
		apierr.Write(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed", apierr.CodeValidation)
	}

	return s.instrument(s.deps.Gate.Handler(r.Handler))
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe(addr string) error {
	return s.srv.ListenAndServe(addr)
}

// Serve serves connections from ln until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

// instrument records per-route metrics. Requests rejected before routing
// are reported under "unmatched".
func (s *Server) instrument(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	m := s.deps.Metrics
	return func(ctx *fasthttp.RequestCtx) {
		m.IncInFlight()
		start := time.Now()
		next(ctx)
		m.DecInFlight()

		route, _ := ctx.UserValue(router.MatchedRoutePathParam).(string)
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

// decodeBody unmarshals a JSON object body into dst. It reports false after
// writing the error response.
func decodeBody(ctx *fasthttp.RequestCtx, dst any) bool {
	body := ctx.PostBody()
	if !json.Valid(body) {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "Invalid JSON in request body", apierr.CodeInvalidJSON)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		apierr.WriteValidation(ctx, []string{"Invalid request body"})
		return false
	}
	return true
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	if s.deps.Health == nil {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": Healthy})
		return
	}
	snap := s.deps.Health.Snapshot()
	status := fasthttp.StatusOK
	if snap.Status == Unhealthy {
		status = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, status, snap)
}

func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.deps.Health == nil || s.deps.Health.ReadinessOK() {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
}
