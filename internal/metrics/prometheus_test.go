package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/valyala/fasthttp"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry

	r.IncInFlight()
	r.DecInFlight()
	r.ObserveHTTP("/x", 200, time.Millisecond)
	r.CacheOp("get", "hit")
	r.RecordRateLimit("api", "allowed")
	r.RecordAuthGate("ok")
	r.ObserveUpstream("static", "flight", "ok", time.Millisecond)
	r.SetCircuitBreaker("static", 1)
	r.RecordHistoryWrite("ok")
	r.RecordAnalytics("written", 3)
	r.SetDependencyHealth("redis", true)
	r.SetBuildInfo("dev")
}

func TestCacheOpCounts(t *testing.T) {
	r := New()

	r.CacheOp("get", "hit")
	r.CacheOp("get", "hit")
	r.CacheOp("get", "miss")

	if got := testutil.ToFloat64(r.cacheOps.WithLabelValues("get", "hit")); got != 2 {
		t.Fatalf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.cacheOps.WithLabelValues("get", "miss")); got != 1 {
		t.Fatalf("misses = %v, want 1", got)
	}
}

func TestCircuitBreakerTransitionsCountedOnce(t *testing.T) {
	r := New()

	r.SetCircuitBreaker("http", 1)
	r.SetCircuitBreaker("http", 1)
	r.SetCircuitBreaker("http", 0)

	if got := testutil.ToFloat64(r.cbTransitions.WithLabelValues("http", "1")); got != 1 {
		t.Fatalf("transitions to open = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.circuitBreakerState.WithLabelValues("http")); got != 0 {
		t.Fatalf("state = %v, want 0", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.SetBuildInfo("1.2.3")

	var req fasthttp.Request
	req.SetRequestURI("/metrics")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	r.Handler()(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), `jetvein_build_info{version="1.2.3"} 1`) {
		t.Fatal("build info missing from exposition")
	}
}
