package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// Limiter manages per-tab request limits for the REST surface. The frame
// channel is not limited here; its producers are bounded by the aggregator
// caps instead.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter allows requestsPerMinute sustained with the given burst, per tab.
func NewLimiter(requestsPerMinute, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

// Allow checks and consumes one request for the tab.
func (l *Limiter) Allow(tabID string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[tabID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[tabID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// RateLimitMiddleware enforces the per-tab limit on routes with an {id} var.
func RateLimitMiddleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tabID := mux.Vars(r)["id"]
			if tabID == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow(tabID) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "rate limit exceeded for tab " + tabID,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
