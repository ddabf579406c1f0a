package httpx

import (
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/piotrnowy/planning-poker/internal/app"
	"github.com/piotrnowy/planning-poker/pkg/metrics"
	"github.com/piotrnowy/planning-poker/pkg/ratelimit"
)

type Middleware struct {
	cors   *cors.Cors
	rlimit *ratelimit.Limiter
}

// NewMiddleware builds the shared middleware stack from config
func NewMiddleware(cfg app.Config) *Middleware {
	rl := ratelimit.New(cfg.RateLimit, time.Minute)
	rl.OnReject = func(*http.Request) {
		metrics.ConnectionsRejected.WithLabelValues("rate_limit").Inc()
	}
	return &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllow,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}),
		rlimit: rl,
	}
}

// Wrap applies CORS to a handler
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return m.cors.Handler(h)
}

// Limit caps connection attempts per client IP
func (m *Middleware) Limit(h http.Handler) http.Handler {
	return m.rlimit.Middleware(h)
}
