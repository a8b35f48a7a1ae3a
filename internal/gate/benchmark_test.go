package gate

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/HarshitKumar9030/jetvein/internal/auth"
	"github.com/HarshitKumar9030/jetvein/internal/ratelimit"
)

// BenchmarkGate measures the overhead the gate adds to an authenticated API
// call when the handler responds instantly.
//
// Run: go test -bench=BenchmarkGate -benchmem ./internal/gate/
func BenchmarkGate(b *testing.B) {
	tokens, err := auth.NewTokenManager(testSecret, time.Hour, "")
	if err != nil {
		b.Fatal(err)
	}
	raw, _, err := tokens.Issue(auth.Identity{ID: "u1", Email: "asha@example.com"})
	if err != nil {
		b.Fatal(err)
	}

	l := ratelimit.NewLocal(context.Background(), time.Minute)
	defer l.Close()

	h := New(Options{
		Limiter: l,
		Policy:  ratelimit.Policy{Default: ratelimit.Rule{Limit: 1 << 30, Window: time.Hour}},
		Tokens:  tokens,
	}).Handler(okHandler)

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		var req fasthttp.Request
		req.Header.SetMethod(fasthttp.MethodGet)
		req.SetRequestURI("/api/flights/search?flight=AI202")
		req.Header.Set("Authorization", "Bearer "+raw)

		i := 0
		for pb.Next() {
			// Spread clients so the limiter map sees realistic key churn.
			req.Header.Set("X-Forwarded-For", "10.0.0."+strconv.Itoa(i%250))
			ctx := &fasthttp.RequestCtx{}
			ctx.Init(&req, nil, nil)
			h(ctx)
			if ctx.Response.StatusCode() != fasthttp.StatusOK {
				b.Errorf("status = %d", ctx.Response.StatusCode())
				return
			}
			i++
		}
	})
}
