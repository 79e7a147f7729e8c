/**
 * @description
 * Per-client rate limiting for the public campaign endpoints, using an in-memory
 * token bucket per client IP.
 */
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const bucketIdleTTL = 10 * time.Minute

// IPRateLimiter holds one token bucket per client key.
type IPRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*tokenBucket
	capacity    float64
	refillEvery time.Duration
	now         func() time.Time
	lastSweep   time.Time
}

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewIPRateLimiter allows requestsPerMinute per key with a burst of the same size.
func NewIPRateLimiter(requestsPerMinute int) *IPRateLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return &IPRateLimiter{
		buckets:     make(map[string]*tokenBucket),
		capacity:    float64(requestsPerMinute),
		refillEvery: time.Minute / time.Duration(requestsPerMinute),
		now:         time.Now,
	}
}

// Allow consumes a token for key and reports whether the request may proceed.
func (rl *IPRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.capacity, lastSeen: now}
		rl.buckets[key] = bucket
	}

	refill := float64(now.Sub(bucket.lastSeen)) / float64(rl.refillEvery)
	if refill > 0 {
		bucket.tokens = min(rl.capacity, bucket.tokens+refill)
	}
	bucket.lastSeen = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// sweepLocked drops idle buckets at most once per idle TTL.
func (rl *IPRateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < bucketIdleTTL {
		return
	}
	for key, bucket := range rl.buckets {
		if now.Sub(bucket.lastSeen) > bucketIdleTTL {
			delete(rl.buckets, key)
		}
	}
	rl.lastSweep = now
}

// RateLimitMiddleware rejects clients that exceed requestsPerMinute. Zero disables it.
func RateLimitMiddleware(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := NewIPRateLimiter(requestsPerMinute)
	retryAfter := strconv.Itoa(int(limiter.refillEvery.Seconds()) + 1)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", retryAfter)
				writeErrorJSON(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
