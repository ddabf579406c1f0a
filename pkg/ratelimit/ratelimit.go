package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Limiter is a fixed-window counter keyed by client IP
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket // per-key windows
	max     int                // attempts per window
	per     time.Duration      // window size
	now     func() time.Time

	// OnReject, if set, runs for every refused request.
	OnReject func(r *http.Request)
}

type bucket struct {
	ts     time.Time // window start
	tokens int       // remaining attempts
}

// New creates a limiter allowing max attempts per window per key.
// max <= 0 disables limiting.
func New(max int, per time.Duration) *Limiter {
	return &Limiter{buckets: map[string]*bucket{}, max: max, per: per, now: time.Now}
}

// Allow spends one attempt for key and reports whether it was available.
func (l *Limiter) Allow(key string) bool {
	if l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.buckets[key]
	if b == nil || now.Sub(b.ts) >= l.per {
		// Start a new window
		b = &bucket{ts: now, tokens: l.max}
		l.buckets[key] = b
		l.sweepLocked(now)
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// sweepLocked drops expired windows so idle clients don't pin memory.
func (l *Limiter) sweepLocked(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.ts) >= l.per {
			delete(l.buckets, k)
		}
	}
}

// Middleware enforces the limit before calling the next handler
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !l.Allow(clientIP(req)) {
			if l.OnReject != nil {
				l.OnReject(req)
			}
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
