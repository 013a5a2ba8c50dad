package middleware

import (
	"net/http"
	"sync"
	"time"
)

type visitor struct {
	windowStart time.Time
	count       int
}

// rateLimiter is a fixed-window counter per client address. Good
// enough to stop a runaway polling loop from starving the daemon.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    requestsPerMinute,
		window:   time.Minute,
	}

	go rl.cleanup()

	return rl
}

// cleanup drops idle visitors so the map stays bounded. Runs for the
// process lifetime, same as the middleware itself.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for addr, v := range rl.visitors {
			if time.Since(v.windowStart) > rl.window {
				delete(rl.visitors, addr)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(addr string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[addr]
	if !ok || now.Sub(v.windowStart) > rl.window {
		rl.visitors[addr] = &visitor{windowStart: now, count: 1}
		return true
	}

	if v.count >= rl.limit {
		return false
	}
	v.count++
	return true
}

func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	rl := newRateLimiter(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := r.RemoteAddr
			if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
				addr = forwarded
			}

			if !rl.allow(addr) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
