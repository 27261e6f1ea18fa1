package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/crdtd/pkg/log"
)

const (
	// limiterCeiling bounds how many per-IP limiters are kept before the
	// prune pass starts dropping the stalest ones.
	limiterCeiling = 10000

	// limiterIdleExpiry is how long an IP can go unseen before its limiter
	// is pruned.
	limiterIdleExpiry = 10 * time.Minute

	pruneInterval = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client-IP token bucket to incoming requests.
// Limiters are created lazily per IP and pruned once idle, keeping the
// map bounded regardless of how many distinct clients show up.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter builds a RateLimiter allowing rps sustained requests per
// second per IP with the given burst, and starts its pruning loop.
func NewRateLimiter(rps, burst int) *RateLimiter {
	rl := &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.pruneLoop()
	return rl
}

// Allow reports whether a request from clientIP fits within its budget.
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[clientIP]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[clientIP] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Middleware wraps next with the per-IP budget check, answering 429 with
// the standard error envelope when a client exceeds it.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			log.Warn("rate limit exceeded for " + ip)
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Code:    "rate_limited",
				Message: "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop terminates the pruning loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) pruneLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.prune()
		case <-rl.stopCh:
			return
		}
	}
}

// prune drops limiters not seen within limiterIdleExpiry; if the map is
// still over the ceiling afterwards, the stalest entries go too.
func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-limiterIdleExpiry)
	for ip, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}

	for len(rl.limiters) > limiterCeiling {
		var stalestIP string
		var stalest time.Time
		for ip, entry := range rl.limiters {
			if stalestIP == "" || entry.lastSeen.Before(stalest) {
				stalestIP = ip
				stalest = entry.lastSeen
			}
		}
		delete(rl.limiters, stalestIP)
	}
}

// clientIP extracts the originating client IP, trusting the gateway's
// X-Real-IP and X-Forwarded-For headers before falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
