package httpapi

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/example/oauth2core/internal/oauth"
)

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	perMinute int
	limiters  map[string]*rate.Limiter
	mu        sync.RWMutex
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = rl.limiters[key]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(rl.perMinute)/60, rl.perMinute)
			rl.limiters[key] = limiter
		}
		rl.mu.Unlock()
	}
	return limiter
}

// Allow reports whether key may make another request now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// clientKey identifies the caller: the Basic username, then the client_id
// field, then the remote address.
func clientKey(r *http.Request) string {
	if u, _, ok := r.BasicAuth(); ok && u != "" {
		return "client:" + u
	}
	if id := r.PostFormValue("client_id"); id != "" {
		return "client:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// Middleware enforces the limit per client.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, &oauth.Error{Status: http.StatusTooManyRequests, Code: "rate_limit_exceeded", Description: "Rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
