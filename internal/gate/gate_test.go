package gate

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/HarshitKumar9030/jetvein/internal/auth"
	"github.com/HarshitKumar9030/jetvein/internal/kv"
	"github.com/HarshitKumar9030/jetvein/internal/ratelimit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func okHandler(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ok")
}

func newTokens(t *testing.T) *auth.TokenManager {
	t.Helper()
	m, err := auth.NewTokenManager(testSecret, time.Hour, "")
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m
}

func newLocalGate(t *testing.T, opts Options) *Gate {
	t.Helper()
	l := ratelimit.NewLocal(context.Background(), time.Minute)
	t.Cleanup(l.Close)
	if opts.Limiter == nil {
		opts.Limiter = l
	}
	return New(opts)
}

func request(h fasthttp.RequestHandler, method, uri string, hdr map[string]string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	// Init attaches a server so the ctx is usable as a context.Context.
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	h(ctx)
	return ctx
}

func TestEnrich_SecurityHeaders(t *testing.T) {
	h := newLocalGate(t, Options{}).Handler(okHandler)
	ctx := request(h, "GET", "/", nil)

	expected := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
		"Content-Security-Policy":   contentSecurityPolicy,
	}
	for header, want := range expected {
		if got := string(ctx.Response.Header.Peek(header)); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if !strings.Contains(contentSecurityPolicy, "frame-src 'self' https://accounts.google.com") {
		t.Fatal("CSP is missing the frame-src directive")
	}
	if len(ctx.Response.Header.Peek("X-Request-ID")) != 36 {
		t.Errorf("X-Request-ID = %q", ctx.Response.Header.Peek("X-Request-ID"))
	}
	if len(ctx.Response.Header.Peek("X-Response-Time")) == 0 {
		t.Error("X-Response-Time missing")
	}
}

func TestEnrich_FreshRequestID(t *testing.T) {
	h := newLocalGate(t, Options{}).Handler(okHandler)
	ctx := request(h, "GET", "/", map[string]string{"X-Request-ID": "client-chosen"})
	if got := string(ctx.Response.Header.Peek("X-Request-ID")); got == "client-chosen" {
		t.Fatal("client-supplied request ID must not be echoed")
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	h := newLocalGate(t, Options{}).Handler(func(*fasthttp.RequestCtx) { panic("boom") })
	ctx := request(h, "GET", "/", nil)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), `"code":"INTERNAL_ERROR"`) {
		t.Fatalf("body = %s", ctx.Response.Body())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		hdr  map[string]string
		want string
	}{
		{map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.2"}, "203.0.113.7"},
		{nil, "unknown"},
	}
	for _, tt := range tests {
		ctx := &fasthttp.RequestCtx{}
		for k, v := range tt.hdr {
			ctx.Request.Header.Set(k, v)
		}
		if got := ClientIP(ctx); got != tt.want {
			t.Errorf("ClientIP(%v) = %q, want %q", tt.hdr, got, tt.want)
		}
	}
}

func TestRateLimit_SignupSixthRejected(t *testing.T) {
	h := newLocalGate(t, Options{}).Handler(okHandler)
	hdr := map[string]string{"X-Forwarded-For": "203.0.113.7"}

	for i := 1; i <= 5; i++ {
		ctx := request(h, "POST", "/api/auth/signup", hdr)
		if ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Fatalf("request %d: status %d", i, ctx.Response.StatusCode())
		}
		if got := string(ctx.Response.Header.Peek("X-RateLimit-Remaining")); got != strconv.Itoa(5-i) {
			t.Fatalf("request %d: remaining %s", i, got)
		}
	}

	ctx := request(h, "POST", "/api/auth/signup", hdr)
	if ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("6th signup: status %d, want 429", ctx.Response.StatusCode())
	}
	body := string(ctx.Response.Body())
	if !strings.Contains(body, `"code":"RATE_LIMIT_EXCEEDED"`) || !strings.Contains(body, `"error":"Too many requests"`) {
		t.Fatalf("body = %s", body)
	}
	ra, err := strconv.Atoi(string(ctx.Response.Header.Peek("Retry-After")))
	if err != nil || ra < 1 || ra > 900 {
		t.Fatalf("Retry-After = %q", ctx.Response.Header.Peek("Retry-After"))
	}
	if len(ctx.Response.Header.Peek("X-Request-ID")) == 0 {
		t.Fatal("rejections still carry a request ID")
	}

	// Another client is unaffected.
	other := request(h, "POST", "/api/auth/signup", map[string]string{"X-Forwarded-For": "198.51.100.9"})
	if other.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("other client: status %d", other.Response.StatusCode())
	}
}

func TestRateLimit_GenericAPI101stRejected(t *testing.T) {
	h := newLocalGate(t, Options{}).Handler(okHandler)
	hdr := map[string]string{"X-Real-IP": "203.0.113.7"}

	for i := 1; i <= 100; i++ {
		if ctx := request(h, "GET", "/api/health", hdr); ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Fatalf("request %d: status %d", i, ctx.Response.StatusCode())
		}
	}
	if ctx := request(h, "GET", "/api/health", hdr); ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("101st request: status %d, want 429", ctx.Response.StatusCode())
	}
}

func TestRateLimit_AuthPrefix(t *testing.T) {
	h := newLocalGate(t, Options{}).Handler(okHandler)
	for i := 0; i < 20; i++ {
		request(h, "POST", "/api/auth/signin", nil)
	}
	if ctx := request(h, "POST", "/api/auth/signin", nil); ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("21st signin: status %d", ctx.Response.StatusCode())
	}
}

func TestRateLimit_PagesNotLimited(t *testing.T) {
	h := newLocalGate(t, Options{Policy: ratelimit.Policy{Default: ratelimit.Rule{Limit: 1, Window: time.Minute}}}).Handler(okHandler)
	for i := 0; i < 3; i++ {
		ctx := request(h, "GET", "/", nil)
		if ctx.Response.StatusCode() != fasthttp.StatusOK || len(ctx.Response.Header.Peek("X-RateLimit-Limit")) != 0 {
			t.Fatalf("page request %d was rate limited", i)
		}
	}
}

func TestRateLimit_SharedStoreAcrossGates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := kv.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	fw := ratelimit.NewFixedWindow(client, "jetvein:rate_limit:")
	a := New(Options{Limiter: fw}).Handler(okHandler)
	b := New(Options{Limiter: fw}).Handler(okHandler)

	hdr := map[string]string{"X-Forwarded-For": "203.0.113.7"}
	for i := 0; i < 5; i++ {
		h := a
		if i%2 == 1 {
			h = b
		}
		request(h, "POST", "/api/auth/signup", hdr)
	}
	if ctx := request(b, "POST", "/api/auth/signup", hdr); ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("6th signup across instances: status %d", ctx.Response.StatusCode())
	}
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("store down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := New(Options{Limiter: erroringLimiter{}}).Handler(okHandler)
	if ctx := request(h, "GET", "/api/health", nil); ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200", ctx.Response.StatusCode())
	}
}

func TestAuthGate_UnauthenticatedAPI(t *testing.T) {
	h := newLocalGate(t, Options{Tokens: newTokens(t)}).Handler(okHandler)

	for _, path := range []string{"/api/user/search-history", "/api/flights/search?flight=AI202", "/api/user/session"} {
		ctx := request(h, "GET", path, nil)
		if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
			t.Fatalf("%s: status %d, want 401", path, ctx.Response.StatusCode())
		}
		if !strings.Contains(string(ctx.Response.Body()), `"code":"UNAUTHORIZED"`) {
			t.Fatalf("%s: body %s", path, ctx.Response.Body())
		}
	}
}

func TestAuthGate_ProtectedPageRedirects(t *testing.T) {
	h := newLocalGate(t, Options{Tokens: newTokens(t)}).Handler(okHandler)

	ctx := request(h, "GET", "/dashboard", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", ctx.Response.StatusCode())
	}
	if loc := string(ctx.Response.Header.Peek("Location")); loc != "/auth/signin?callbackUrl=%2Fdashboard" {
		t.Fatalf("Location = %q", loc)
	}
}

func TestAuthGate_InvalidTokenFailsClosed(t *testing.T) {
	h := newLocalGate(t, Options{Tokens: newTokens(t)}).Handler(okHandler)
	ctx := request(h, "GET", "/api/user/session", map[string]string{"Authorization": "Bearer garbage"})
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}

func TestAuthGate_ValidTokenPasses(t *testing.T) {
	tokens := newTokens(t)
	raw, _, _ := tokens.Issue(auth.Identity{ID: "u1", Email: "asha@example.com"})

	var seen *auth.Claims
	h := newLocalGate(t, Options{Tokens: tokens}).Handler(func(ctx *fasthttp.RequestCtx) {
		seen, _ = Session(ctx)
		okHandler(ctx)
	})

	ctx := request(h, "GET", "/api/user/search-history", map[string]string{"Authorization": "Bearer " + raw})
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
	if seen == nil || seen.UserID() != "u1" {
		t.Fatalf("session = %+v", seen)
	}
}

func TestAuthGate_NoVerifierFailsClosed(t *testing.T) {
	h := newLocalGate(t, Options{}).Handler(okHandler)
	if ctx := request(h, "GET", "/api/user/session", nil); ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}

func TestReverseGate(t *testing.T) {
	tokens := newTokens(t)
	raw, _, _ := tokens.Issue(auth.Identity{ID: "u1"})
	h := newLocalGate(t, Options{Tokens: tokens}).Handler(okHandler)
	signedIn := map[string]string{"Authorization": "Bearer " + raw}

	tests := []struct {
		uri  string
		want string
	}{
		{"/auth/signin?callbackUrl=/dashboard", "/dashboard"},
		{"/auth/signup", "/"},
		{"/auth/signin?callbackUrl=https://evil.example", "/"},
		{"/auth/signin?callbackUrl=//evil.example", "/"},
	}
	for _, tt := range tests {
		ctx := request(h, "GET", tt.uri, signedIn)
		if ctx.Response.StatusCode() != fasthttp.StatusTemporaryRedirect {
			t.Fatalf("%s: status %d", tt.uri, ctx.Response.StatusCode())
		}
		if loc := string(ctx.Response.Header.Peek("Location")); loc != tt.want {
			t.Fatalf("%s: Location %q, want %q", tt.uri, loc, tt.want)
		}
	}

	if ctx := request(h, "GET", "/auth/signin", nil); ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("signed-out sign-in page: status %d", ctx.Response.StatusCode())
	}
}

func TestCORS(t *testing.T) {
	h := newLocalGate(t, Options{}).Handler(okHandler)

	ctx := request(h, "GET", "/api/health", nil)
	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Fatalf("Allow-Origin = %q", got)
	}
	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Methods")); got != "GET, POST, PUT, DELETE, OPTIONS" {
		t.Fatalf("Allow-Methods = %q", got)
	}
	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Headers")); got != "Content-Type, Authorization" {
		t.Fatalf("Allow-Headers = %q", got)
	}

	page := request(h, "GET", "/", nil)
	if len(page.Response.Header.Peek("Access-Control-Allow-Origin")) != 0 {
		t.Fatal("pages must not carry CORS headers")
	}
}

func TestCORS_PreflightSkipsAuth(t *testing.T) {
	called := false
	h := newLocalGate(t, Options{Tokens: newTokens(t)}).Handler(func(ctx *fasthttp.RequestCtx) {
		called = true
	})

	ctx := request(h, "OPTIONS", "/api/user/search-history", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200", ctx.Response.StatusCode())
	}
	if len(ctx.Response.Body()) != 0 || called {
		t.Fatal("preflight must not reach the handler or carry a body")
	}
}

func TestCORS_ProductionAllowList(t *testing.T) {
	h := newLocalGate(t, Options{
		Production:  true,
		CORSOrigins: []string{"https://jetvein.app"},
	}).Handler(okHandler)

	ctx := request(h, "GET", "/api/health", map[string]string{"Origin": "https://jetvein.app"})
	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")); got != "https://jetvein.app" {
		t.Fatalf("Allow-Origin = %q", got)
	}

	ctx = request(h, "GET", "/api/health", map[string]string{"Origin": "https://evil.example"})
	if got := ctx.Response.Header.Peek("Access-Control-Allow-Origin"); len(got) != 0 {
		t.Fatalf("unlisted origin got Allow-Origin %q", got)
	}
}

func TestSafeCallback(t *testing.T) {
	tests := map[string]string{
		"":                  "/",
		"/":                 "/",
		"/dashboard?tab=1":  "/dashboard?tab=1",
		"//evil.example":    "/",
		"/\\evil.example":   "/",
		"https://evil.test": "/",
		"javascript:alert":  "/",
	}
	for in, want := range tests {
		if got := safeCallback(in); got != want {
			t.Errorf("safeCallback(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestApplyMiddleware_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}
	h := applyMiddleware(func(*fasthttp.RequestCtx) { order = append(order, "h") }, mw("a"), mw("b"))
	h(&fasthttp.RequestCtx{})

	if strings.Join(order, ",") != "a,b,h" {
		t.Fatalf("order = %v", order)
	}
}
