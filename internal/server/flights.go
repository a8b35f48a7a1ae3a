package server

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"github.com/HarshitKumar9030/jetvein/internal/analytics"
	"github.com/HarshitKumar9030/jetvein/internal/flights"
	"github.com/HarshitKumar9030/jetvein/internal/gate"
	"github.com/HarshitKumar9030/jetvein/pkg/apierr"
)

// X-Cache values.
const (
	cacheHit    = "HIT"
	cacheMiss   = "MISS"
	cacheBypass = "BYPASS"
)

// Counter names reported by GET /api/stats.
const (
	counterCacheHits = "cache_hits"
	counterAPICalls  = "api_calls"
)

type flightSearchRequest struct {
	FlightNumber string `json:"flightNumber"`
}

func (s *Server) handleFlightSearch(ctx *fasthttp.RequestCtx) {
	number := strings.TrimSpace(string(ctx.QueryArgs().Peek("flight")))
	if number == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "Flight number is required", apierr.CodeValidation)
		return
	}
	s.lookupFlight(ctx, number)
}

// handleFlightSearchPost records the term in the caller's search history,
// then answers like the GET form.
func (s *Server) handleFlightSearchPost(ctx *fasthttp.RequestCtx) {
	var req flightSearchRequest
	if !decodeBody(ctx, &req) {
		return
	}
	number := strings.TrimSpace(req.FlightNumber)
	if number == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "Flight number is required", apierr.CodeValidation)
		return
	}

	if claims, ok := gate.Session(ctx); ok && s.deps.Recorder != nil {
		s.deps.Recorder.Record(claims.UserID(), number)
	}
	s.lookupFlight(ctx, number)
}

func (s *Server) lookupFlight(ctx *fasthttp.RequestCtx, number string) {
	start := time.Now()
	number = flights.NormalizeNumber(number)
	cached := s.deps.Cache != nil && !s.deps.CacheExclusions.Matches(number)

	if cached {
		if f, res := s.deps.Cache.GetFlightData(ctx, number); res.Hit() {
			s.deps.Cache.IncrementCounter(ctx, counterCacheHits, 1)
			s.logSearch(ctx, number, true, fasthttp.StatusOK, start)
			ctx.Response.Header.Set("X-Cache", cacheHit)
			writeJSON(ctx, fasthttp.StatusOK, map[string]any{
				"data":      f,
				"cached":    true,
				"timestamp": s.timestamp(),
			})
			return
		}
	}

	f, err := s.deps.Flights.Flight(ctx, number)
	if err != nil {
		status := s.writeUpstreamError(ctx, "flight", number, err)
		s.logSearch(ctx, number, false, status, start)
		return
	}

	xcache := cacheBypass
	if cached {
		xcache = cacheMiss
		if err := s.deps.Cache.CacheFlightData(ctx, number, f); err != nil {
			s.log.WarnContext(ctx, "flight_cache_write_failed",
				slog.String("flight", number),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.Cache != nil {
		s.deps.Cache.IncrementCounter(ctx, counterAPICalls, 1)
	}

	s.logSearch(ctx, number, false, fasthttp.StatusOK, start)
	ctx.Response.Header.Set("X-Cache", xcache)
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"data":      f,
		"cached":    false,
		"timestamp": s.timestamp(),
	})
}

// writeUpstreamError maps a source error to a response and returns the
// status written.
func (s *Server) writeUpstreamError(ctx *fasthttp.RequestCtx, kind, id string, err error) int {
	switch {
	case errors.Is(err, flights.ErrNotFound):
		msg := "Flight not found"
		if kind == "aircraft" {
			msg = "Aircraft not found"
		}
		apierr.Write(ctx, fasthttp.StatusNotFound, msg, apierr.CodeNotFound)
		return fasthttp.StatusNotFound

	case errors.Is(err, flights.ErrCircuitOpen):
		apierr.WriteError(ctx, fasthttp.StatusServiceUnavailable, apierr.APIError{
			Error:   "Flight data temporarily unavailable",
			Code:    apierr.CodeUpstream,
			Message: "Please try again later",
		})
		return fasthttp.StatusServiceUnavailable

	default:
		s.log.ErrorContext(ctx, "flight_lookup_failed",
			slog.String("kind", kind),
			slog.String("id", id),
			slog.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			slog.String("error", err.Error()),
		)
		apierr.Write(ctx, fasthttp.StatusBadGateway, "Failed to fetch flight data", apierr.CodeUpstream)
		return fasthttp.StatusBadGateway
	}
}

func (s *Server) logSearch(ctx *fasthttp.RequestCtx, number string, cached bool, status int, start time.Time) {
	if s.deps.Analytics == nil {
		return
	}
	e := analytics.Event{
		FlightNumber: number,
		Source:       s.deps.Flights.Name(),
		Cached:       cached,
		Status:       uint16(status),
		LatencyMs:    uint32(time.Since(start).Milliseconds()),
		CreatedAt:    s.now(),
	}
	if claims, ok := gate.Session(ctx); ok {
		e.UserID = claims.UserID()
	}
	if cached {
		e.Source = "cache"
	}
	s.deps.Analytics.Log(e)
}

func (s *Server) handleClearFlightCache(ctx *fasthttp.RequestCtx) {
	if s.deps.Cache == nil {
		writeStoreConfigError(ctx)
		return
	}
	n := s.deps.Cache.ClearPattern(ctx, "flight:*")
	s.log.InfoContext(ctx, "flight_cache_cleared", slog.Int64("deleted", n))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleAircraftHistory(ctx *fasthttp.RequestCtx) {
	reg := strings.TrimSpace(string(ctx.QueryArgs().Peek("registration")))
	if reg == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "Registration is required", apierr.CodeValidation)
		return
	}
	reg = flights.NormalizeNumber(reg)

	if s.deps.Cache != nil {
		if h, res := s.deps.Cache.GetAircraftHistory(ctx, reg); res.Hit() {
			ctx.Response.Header.Set("X-Cache", cacheHit)
			writeJSON(ctx, fasthttp.StatusOK, map[string]any{
				"data":      h,
				"cached":    true,
				"timestamp": s.timestamp(),
			})
			return
		}
	}

	h, err := s.deps.Flights.AircraftHistory(ctx, reg)
	if err != nil {
		s.writeUpstreamError(ctx, "aircraft", reg, err)
		return
	}

	xcache := cacheBypass
	if s.deps.Cache != nil {
		xcache = cacheMiss
		if err := s.deps.Cache.CacheAircraftHistory(ctx, reg, h); err != nil {
			s.log.WarnContext(ctx, "aircraft_cache_write_failed",
				slog.String("registration", reg),
				slog.String("error", err.Error()),
			)
		}
	}

	ctx.Response.Header.Set("X-Cache", xcache)
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"data":      h,
		"cached":    false,
		"timestamp": s.timestamp(),
	})
}

// statsKeys are read in one MGet. Counters live under the counter namespace
// with the service's default prefix.
var statsKeys = []string{"counter:" + counterCacheHits, "counter:" + counterAPICalls}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	if s.deps.Cache == nil {
		writeStoreConfigError(ctx)
		return
	}

	vals := s.deps.Cache.MGet(ctx, statsKeys, "")
	hits, calls := rawInt(vals[0]), rawInt(vals[1])

	rate := 0.0
	if total := hits + calls; total > 0 {
		rate = float64(hits) / float64(total)
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"cacheHits": hits,
		"apiCalls":  calls,
		"hitRate":   rate,
		"timestamp": s.timestamp(),
	})
}

// rawInt parses a counter value, 0 when absent or not an integer.
func rawInt(raw json.RawMessage) int64 {
	if raw == nil {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
