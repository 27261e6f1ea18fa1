package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(rps, burst int) *RateLimiter {
	rl := NewRateLimiter(rps, burst)
	rl.Stop()
	return rl
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := newTestLimiter(1, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d should fit within burst", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"), "fourth request exceeds burst")
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := newTestLimiter(1, 1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "a different IP gets its own bucket")
}

func TestRateLimiterMiddlewareRejectsWith429(t *testing.T) {
	rl := newTestLimiter(1, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/documents/x/snapshot", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/documents/x/snapshot", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "rate_limited")
}

func TestRateLimiterPruneDropsIdleEntries(t *testing.T) {
	rl := newTestLimiter(1, 1)
	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	rl.mu.Lock()
	rl.limiters["10.0.0.1"].lastSeen = time.Now().Add(-limiterIdleExpiry - time.Minute)
	rl.mu.Unlock()

	rl.prune()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	_, stale := rl.limiters["10.0.0.1"]
	_, fresh := rl.limiters["10.0.0.2"]
	assert.False(t, stale, "idle limiter should be pruned")
	assert.True(t, fresh, "recently seen limiter should survive")
}

func TestClientIPPrefersForwardingHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.9:1234"
	assert.Equal(t, "192.0.2.9", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(r))
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := newTestLimiter(100, 1)
	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"))
	time.Sleep(15 * time.Millisecond)
	assert.True(t, rl.Allow("10.0.0.1"), "bucket refills at 100 rps")
}
