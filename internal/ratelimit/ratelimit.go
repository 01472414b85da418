// Package ratelimit provides a per-IP token-bucket limiter for the
// WebSocket upgrade endpoint.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entryTTL is how long an idle IP's bucket is kept before cleanup.
const entryTTL = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter allows max requests per window for each client IP.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	rate    rate.Limit
	burst   int
}

// NewIPLimiter creates an IPLimiter allowing max requests per window.
// A max of zero disables limiting.
func NewIPLimiter(max int, window time.Duration) *IPLimiter {
	limit := rate.Inf
	if max > 0 {
		limit = rate.Every(window / time.Duration(max))
	}
	return &IPLimiter{
		entries: make(map[string]*entry),
		rate:    limit,
		burst:   max,
	}
}

// Allow reports whether the IP is within its limit and records the request.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	e, ok := l.entries[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = time.Now()
	l.cleanupLocked()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// cleanupLocked drops buckets for IPs not seen within entryTTL.
// Caller holds mu.
func (l *IPLimiter) cleanupLocked() {
	cutoff := time.Now().Add(-entryTTL)
	for ip, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, ip)
		}
	}
}

// Middleware rejects over-limit requests with 429 before they reach next.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote host, ignoring the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
