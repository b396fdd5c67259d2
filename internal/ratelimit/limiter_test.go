package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("k"))
	}
	assert.Equal(t, 0, limiter.Len())
}

func TestLimiter_BurstThenReject(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 3})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))

	// Keys have independent buckets.
	assert.True(t, limiter.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("a"))
}

func TestLimiter_IdleKeysAreDropped(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, IdleTimeout: time.Minute})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	limiter.Allow("b")
	assert.Equal(t, 2, limiter.Len())

	now = now.Add(2 * time.Minute)
	limiter.Allow("c")
	assert.Equal(t, 1, limiter.Len())
}

func TestLimiter_MaxKeys(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, MaxKeys: 2})

	limiter.Allow("a")
	limiter.Allow("b")
	limiter.Allow("c")
	assert.LessOrEqual(t, limiter.Len(), 2)
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.5, BurstSize: 1})
	handler := limiter.Middleware(IPBasedKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/render", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "0.5", first.Header().Get("X-RateLimit-Limit"))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "2", second.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodPost, "/render", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	third := httptest.NewRecorder()
	handler.ServeHTTP(third, other)
	assert.Equal(t, http.StatusNoContent, third.Code)
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	limiter := NewLimiter(DefaultConfig())

	handler := limiter.Middleware(IPBasedKey)(next)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestIPBasedKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "9.9.9.9:1", "ip:1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "9.9.9.9:1", "ip:5.6.7.8"},
		{"remote addr", nil, "9.9.9.9:1234", "ip:9.9.9.9"},
		{"remote without port", nil, "pipe", "ip:pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, IPBasedKey(req))
		})
	}
}
