package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
	lastGC   time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per second with the given burst per IP.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether a request from ip is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	now := rl.now()
	if now.Sub(rl.lastGC) > limiterIdleTTL {
		for key, c := range rl.limiters {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, key)
			}
		}
		rl.lastGC = now
	}
	c, ok := rl.limiters[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Limit rejects requests over the limit with 429 Too Many Requests.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit builds a per-IP limiter middleware. A non-positive rate disables it.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return NewRateLimiter(perSecond, burst).Limit
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Real-Ip / X-Forwarded-For.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
