// Package ratelimit throttles rendering requests per client.
package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"kumascript/internal/common/logging"
)

// Config controls the per-client token buckets
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	MaxKeys           int
	IdleTimeout       time.Duration
}

// DefaultConfig returns a disabled limiter configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0,
		BurstSize:         10,
		MaxKeys:           10000,
		IdleTimeout:       10 * time.Minute,
	}
}

// Enabled reports whether requests are limited at all
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Limiter keeps one token bucket per key
type Limiter struct {
	mu          sync.Mutex
	config      Config
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
	now         func() time.Time
}

// NewLimiter creates a Limiter. A non-positive burst is raised to one.
func NewLimiter(config Config) *Limiter {
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Limiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow takes one token for key
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanupLocked(now)

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		}
		l.limiters[key] = entry
	}
	entry.lastUsed = now
	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) cleanupLocked(now time.Time) {
	overflow := l.config.MaxKeys > 0 && len(l.limiters) >= l.config.MaxKeys
	if !overflow && now.Sub(l.lastCleanup) < l.config.IdleTimeout {
		return
	}
	for key, entry := range l.limiters {
		if now.Sub(entry.lastUsed) >= l.config.IdleTimeout {
			delete(l.limiters, key)
		}
	}
	// Still full: start over rather than grow without bound.
	if l.config.MaxKeys > 0 && len(l.limiters) >= l.config.MaxKeys {
		l.limiters = make(map[string]*limiterEntry)
	}
	l.lastCleanup = now
}

// Middleware rejects requests over the limit with 429
func (l *Limiter) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !l.config.Enabled() {
			return next
		}
		retryAfter := int(math.Ceil(1 / l.config.RequestsPerSecond))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", l.config.RequestsPerSecond))
			if !l.Allow(key) {
				logging.Warn("Rate limit exceeded", logging.String("key", key), logging.String("path", r.URL.Path))
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys requests by the first forwarded address or the remote host
func IPBasedKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
