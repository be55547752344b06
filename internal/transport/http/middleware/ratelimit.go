package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-petition/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// RateLimiter is a coarse per-IP token bucket placed in front of the
// public POST routes. Idle buckets age out of the LRU. The client IP comes
// from ClientIPResolver, which must run first.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	r        rate.Limit
	burst    int
}

// NewRateLimiter creates a per-IP limiter: r requests/second, burst up to burst requests.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](10000, nil, 10*time.Minute),
		r:        r,
		burst:    burst,
	}
}

// get returns the bucket for ip, creating it under the lock so concurrent
// first requests share one bucket.
func (rl *RateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters.Get(ip); ok {
		return l
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.limiters.Add(ip, l)
	return l
}

// Limit is the middleware handler that enforces the rate limit per client IP.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.get(ClientIP(r)).Allow() {
			writeJSONError(w, http.StatusTooManyRequests, domain.CodeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
