package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	clientLimiterCacheSize = 4096
	clientLimiterIdleTTL   = 10 * time.Minute
)

// RateLimiter admits execution requests under a global rate, a per-client
// rate and a ceiling on requests in flight. Idle per-client limiters expire.
type RateLimiter struct {
	global        *rate.Limiter
	clients       *expirable.LRU[string, *rate.Limiter]
	clientRate    rate.Limit
	clientBurst   int
	maxConcurrent int
	onReject      func()

	mu      sync.Mutex
	current int
}

// NewRateLimiter creates a RateLimiter. onReject, when set, is called for
// every rejected request.
func NewRateLimiter(globalRPS float64, globalBurst int, clientRPS float64, clientBurst, maxConcurrent int, onReject func()) *RateLimiter {
	if globalBurst <= 0 {
		globalBurst = int(globalRPS) * 2
	}
	return &RateLimiter{
		global:        rate.NewLimiter(rate.Limit(globalRPS), globalBurst),
		clients:       expirable.NewLRU[string, *rate.Limiter](clientLimiterCacheSize, nil, clientLimiterIdleTTL),
		clientRate:    rate.Limit(clientRPS),
		clientBurst:   clientBurst,
		maxConcurrent: maxConcurrent,
		onReject:      onReject,
	}
}

func (rl *RateLimiter) clientLimiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok := rl.clients.Get(client); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.clientRate, rl.clientBurst)
	rl.clients.Add(client, limiter)
	return limiter
}

// Allow reports whether a request from client may proceed. A true result
// takes a concurrency slot that must be returned with Done.
func (rl *RateLimiter) Allow(client string) bool {
	if !rl.global.Allow() || !rl.clientLimiter(client).Allow() {
		rl.reject()
		return false
	}

	rl.mu.Lock()
	if rl.current >= rl.maxConcurrent {
		rl.mu.Unlock()
		rl.reject()
		return false
	}
	rl.current++
	rl.mu.Unlock()

	return true
}

// Done returns a concurrency slot
func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.current > 0 {
		rl.current--
	}
	rl.mu.Unlock()
}

func (rl *RateLimiter) reject() {
	if rl.onReject != nil {
		rl.onReject()
	}
}

// Middleware rejects requests over the limits with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate_limited",
				Message: "too many requests",
			})
			return
		}
		defer rl.Done()

		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller by address. RealIP has already replaced
// RemoteAddr with the forwarded address when there is one.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
