// Package gate is the request pipeline in front of every JetVein route:
// security headers and request IDs, per-route rate limiting, the session
// gate for protected paths, the reverse gate for sign-in pages, and CORS.
package gate

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/HarshitKumar9030/jetvein/internal/auth"
	"github.com/HarshitKumar9030/jetvein/internal/metrics"
	"github.com/HarshitKumar9030/jetvein/internal/ratelimit"
	"github.com/HarshitKumar9030/jetvein/pkg/apierr"
)

// User value keys set on the request context.
const (
	RequestIDKey = "request_id"
	SessionKey   = "session"
)

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-eval' 'unsafe-inline' https://accounts.google.com; " +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
	"font-src 'self' https://fonts.gstatic.com; " +
	"img-src 'self' data: https: blob:; " +
	"connect-src 'self' https://accounts.google.com https://www.googleapis.com; " +
	"frame-src 'self' https://accounts.google.com; " +
	"object-src 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self'; " +
	"upgrade-insecure-requests"

var (
	// DefaultProtected lists path prefixes that require a valid session.
	DefaultProtected = []string{
		"/dashboard",
		"/profile",
		"/settings",
		"/api/user",
		"/api/flights/search",
		"/api/user/search-history",
		"/api/aircraft",
		"/api/flights/cache",
	}

	// DefaultAuthPages are bounced to the callback when already signed in.
	DefaultAuthPages = []string{"/auth/signin", "/auth/signup"}
)

const signInPath = "/auth/signin"

// TokenVerifier extracts and verifies the session token of a request.
type TokenVerifier interface {
	FromRequest(ctx *fasthttp.RequestCtx) (*auth.Claims, error)
}

type Options struct {
	// Limiter decides rate limits. Use the store-backed limiter when a
	// shared store is configured so every instance shares the counters.
	Limiter ratelimit.Limiter
	Policy  ratelimit.Policy

	// Tokens verifies sessions. Nil treats every request as signed out.
	Tokens TokenVerifier

	Protected []string
	AuthPages []string

	// CORSOrigins is the allow-list. ["*"] or an empty list allows any
	// origin.
	CORSOrigins []string
	Production  bool

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

type Gate struct {
	limiter   ratelimit.Limiter
	policy    ratelimit.Policy
	tokens    TokenVerifier
	protected []string
	authPages map[string]struct{}
	anyOrigin bool
	origins   map[string]struct{}
	prod      bool
	log       *slog.Logger
	metrics   *metrics.Registry
	now       func() time.Time
}

func New(opts Options) *Gate {
	g := &Gate{
		limiter:   opts.Limiter,
		policy:    opts.Policy,
		tokens:    opts.Tokens,
		protected: opts.Protected,
		authPages: make(map[string]struct{}),
		origins:   make(map[string]struct{}),
		prod:      opts.Production,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
	if g.policy.Default.Limit == 0 {
		g.policy = ratelimit.DefaultPolicy()
	}
	if g.protected == nil {
		g.protected = DefaultProtected
	}
	pages := opts.AuthPages
	if pages == nil {
		pages = DefaultAuthPages
	}
	for _, p := range pages {
		g.authPages[p] = struct{}{}
	}
	if len(opts.CORSOrigins) == 0 {
		g.anyOrigin = true
	}
	for _, o := range opts.CORSOrigins {
		if o == "*" {
			g.anyOrigin = true
		}
		g.origins[o] = struct{}{}
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	return g
}

// Handler wraps next with the full gate pipeline.
func (g *Gate) Handler(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return applyMiddleware(next,
		g.recovery,
		timing,
		enrich,
		g.rateLimit,
		g.authGate,
		g.reverseGate,
		g.cors,
	)
}

// Session returns the verified claims stored by the auth gate.
func Session(ctx *fasthttp.RequestCtx) (*auth.Claims, bool) {
	c, ok := ctx.UserValue(SessionKey).(*auth.Claims)
	return c, ok && c != nil
}

// RequestID returns the ID assigned to the request.
func RequestID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue(RequestIDKey).(string)
	return id
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// "unknown".
func ClientIP(ctx *fasthttp.RequestCtx) string {
	if xff := string(ctx.Request.Header.Peek("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(string(ctx.Request.Header.Peek("X-Real-IP"))); ip != "" {
		return ip
	}
	return "unknown"
}

func isAPI(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// recovery catches panics in any handler and returns a 500 without crashing
// the server process. The panic value is logged at ERROR level.
func (g *Gate) recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("handler_panic",
					slog.Any("panic", r),
					slog.String("path", string(ctx.Path())),
					slog.String("method", string(ctx.Method())),
					slog.String("request_id", RequestID(ctx)),
				)
				ctx.ResetBody()
				apierr.WriteInternal(ctx)
			}
		}()
		next(ctx)
	}
}

// timing records the total handler duration in the X-Response-Time response
// header.
func timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		ctx.Response.Header.Set("X-Response-Time", time.Since(start).String())
	}
}

// enrich sets the security headers and a fresh request ID before anything
// can reject the request, so rejections carry them too.
func enrich(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		h := &ctx.Response.Header
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.Set("Content-Security-Policy", contentSecurityPolicy)

		id := uuid.NewString()
		h.Set("X-Request-ID", id)
		ctx.SetUserValue(RequestIDKey, id)

		next(ctx)
	}
}

func (g *Gate) rateLimit(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		if !isAPI(path) || g.limiter == nil {
			next(ctx)
			return
		}

		rule := g.policy.RuleFor(path)
		key := ClientIP(ctx) + ":" + path

		d, err := g.limiter.Allow(ctx, key, rule.Limit, rule.Window)
		if err != nil {
			d.Allowed = true
			g.metrics.RecordRateLimit("gate", "error")
			g.log.WarnContext(ctx, "rate_limit_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}

		h := &ctx.Response.Header
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			g.metrics.RecordRateLimit("gate", "limited")
			g.log.InfoContext(ctx, "rate_limit_exceeded",
				slog.String("key", key),
				slog.Int("limit", d.Limit),
			)
			apierr.WriteRateLimit(ctx, d.RetryAfter(g.now()))
			return
		}

		if err == nil {
			g.metrics.RecordRateLimit("gate", "allowed")
		}
		next(ctx)
	}
}

func (g *Gate) isProtected(path string) bool {
	for _, p := range g.protected {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// verify returns the session claims or nil. Any verification failure counts
// as signed out.
func (g *Gate) verify(ctx *fasthttp.RequestCtx) *auth.Claims {
	if g.tokens == nil {
		return nil
	}
	claims, err := g.tokens.FromRequest(ctx)
	if err != nil {
		return nil
	}
	return claims
}

func (g *Gate) authGate(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		if !g.isProtected(path) || ctx.IsOptions() {
			next(ctx)
			return
		}

		claims := g.verify(ctx)
		if claims == nil {
			g.metrics.RecordAuthGate("denied")
			if isAPI(path) {
				apierr.Write(ctx, fasthttp.StatusUnauthorized, "Authentication required", apierr.CodeUnauthorized)
				return
			}
			redirect(ctx, signInPath+"?callbackUrl="+url.QueryEscape(path))
			return
		}

		g.metrics.RecordAuthGate("allowed")
		ctx.SetUserValue(SessionKey, claims)
		next(ctx)
	}
}

func (g *Gate) reverseGate(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := g.authPages[string(ctx.Path())]; !ok {
			next(ctx)
			return
		}

		if g.verify(ctx) != nil {
			redirect(ctx, safeCallback(string(ctx.QueryArgs().Peek("callbackUrl"))))
			return
		}
		next(ctx)
	}
}

// safeCallback only allows local absolute paths.
func safeCallback(cb string) string {
	if !strings.HasPrefix(cb, "/") || strings.HasPrefix(cb, "//") || strings.ContainsRune(cb, '\\') {
		return "/"
	}
	return cb
}

func redirect(ctx *fasthttp.RequestCtx, location string) {
	ctx.Response.Header.Set(fasthttp.HeaderLocation, location)
	ctx.SetStatusCode(fasthttp.StatusTemporaryRedirect)
}

func (g *Gate) cors(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !isAPI(string(ctx.Path())) {
			next(ctx)
			return
		}

		h := &ctx.Response.Header
		if origin := g.allowOrigin(string(ctx.Request.Header.Peek(fasthttp.HeaderOrigin))); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Add(fasthttp.HeaderVary, "Origin")
			}
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if ctx.IsOptions() {
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.ResetBody()
			return
		}
		next(ctx)
	}
}

func (g *Gate) allowOrigin(origin string) string {
	if g.anyOrigin || !g.prod {
		return "*"
	}
	if _, ok := g.origins[origin]; ok {
		return origin
	}
	return ""
}

// applyMiddleware wraps h with the given middleware chain. The first middleware
// in the slice becomes the outermost wrapper (executes first on request,
// last on response):
//
//	applyMiddleware(h, mw1, mw2) → mw1(mw2(h))
func applyMiddleware(h fasthttp.RequestHandler, mws ...func(fasthttp.RequestHandler) fasthttp.RequestHandler) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
