package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds sliding-window rate limiter configuration.
type RateLimitConfig struct {
	// Requests is the number of requests allowed per window per client.
	// A value of zero or less disables limiting.
	Requests int
	// Window is the sliding window size.
	Window time.Duration
}

type clientWindow struct {
	times []time.Time
}

// rateLimiter tracks request timestamps per client address.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	config  RateLimitConfig

	lastPrune time.Time
}

// RateLimit returns a per-client sliding-window rate limiter for API
// routes. Progress WebSocket connections are exempt: a single page open
// on a job holds one long-lived connection, not repeated requests.
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	rl := &rateLimiter{
		clients:   make(map[string]*clientWindow),
		config:    config,
		lastPrune: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Requests <= 0 ||
				!strings.HasPrefix(r.URL.Path, "/api/") ||
				strings.HasPrefix(r.URL.Path, "/api/ws/") {
				next.ServeHTTP(w, r)
				return
			}

			if retryAfter, limited := rl.take(clientKey(r), time.Now()); limited {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// take records a request for key at now and reports whether it exceeds
// the window. When limited, retryAfter is the time until the oldest
// in-window request expires.
func (rl *rateLimiter) take(key string, now time.Time) (retryAfter time.Duration, limited bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastPrune) > rl.config.Window {
		rl.prune(now)
		rl.lastPrune = now
	}

	cw := rl.clients[key]
	if cw == nil {
		cw = &clientWindow{}
		rl.clients[key] = cw
	}

	cutoff := now.Add(-rl.config.Window)
	kept := cw.times[:0]
	for _, t := range cw.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cw.times = kept

	if len(cw.times) >= rl.config.Requests {
		return cw.times[0].Sub(cutoff), true
	}
	cw.times = append(cw.times, now)
	return 0, false
}

// prune drops clients with no in-window requests. Called with mu held.
func (rl *rateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rl.config.Window)
	for key, cw := range rl.clients {
		if len(cw.times) == 0 || !cw.times[len(cw.times)-1].After(cutoff) {
			delete(rl.clients, key)
		}
	}
}

// clientKey identifies a client by remote host. RealIP middleware runs
// earlier in the chain, so RemoteAddr reflects forwarded headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
