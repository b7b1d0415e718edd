package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const rateLimitEvictTTL = 10 * time.Minute

// ipRateLimiter keeps one token bucket per client IP. Idle buckets are
// evicted lazily on the next request after evictTTL.
type ipRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSeen  map[string]time.Time
	r         rate.Limit
	burst     int
	evictTTL  time.Duration
	lastSweep time.Time
}

func newIPRateLimiter(perSecond float64, burst int, evictTTL time.Duration) *ipRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipRateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		lastSeen:  make(map[string]time.Time),
		r:         rate.Limit(perSecond),
		burst:     burst,
		evictTTL:  evictTTL,
		lastSweep: time.Now(),
	}
}

// Allow reports whether the given IP is within its rate limit.
func (rl *ipRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > rl.evictTTL {
		rl.sweep(now)
	}

	l, ok := rl.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rl.r, rl.burst)
		rl.limiters[ip] = l
	}
	rl.lastSeen[ip] = now
	return l.Allow()
}

// sweep drops buckets idle for longer than evictTTL. Callers hold mu.
func (rl *ipRateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rl.evictTTL)
	for ip, last := range rl.lastSeen {
		if last.Before(cutoff) {
			delete(rl.limiters, ip)
			delete(rl.lastSeen, ip)
		}
	}
	rl.lastSweep = now
}

func (rl *ipRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// rateLimit applies per-IP limiting to device routes. The key is the socket
// peer address unless WithTrustedProxy installed chi's RealIP middleware.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !s.limiter.Allow(ip) {
			httpRateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
