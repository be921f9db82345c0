package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"autobattle/internal/config"
)

// Idle per-IP buckets are swept every limiterSweep and dropped after
// twice that without traffic.
const limiterSweep = 5 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// IPRateLimiter gives every client address its own token bucket for the
// battle API.
type IPRateLimiter struct {
	buckets sync.Map // client ip → *bucket
	config  config.RateLimitConfig
	done    chan struct{}
	once    sync.Once

	allowed  atomic.Uint64
	rejected atomic.Uint64
}

// NewIPRateLimiter starts the idle sweep; call Stop to end it.
func NewIPRateLimiter(cfg config.RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		config: cfg,
		done:   make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop ends the idle sweep. Safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *IPRateLimiter) bucketFor(ip string) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := rl.buckets.Load(ip); ok {
		b := v.(*bucket)
		b.lastSeen.Store(now)
		return b.limiter
	}

	b := &bucket{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
	b.lastSeen.Store(now)
	v, _ := rl.buckets.LoadOrStore(ip, b)
	return v.(*bucket).limiter
}

func (rl *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.cleanup(now.Add(-2 * limiterSweep))
		}
	}
}

// cleanup drops buckets idle since before cutoff.
func (rl *IPRateLimiter) cleanup(cutoff time.Time) {
	c := cutoff.UnixNano()
	rl.buckets.Range(func(ip, v interface{}) bool {
		if v.(*bucket).lastSeen.Load() < c {
			rl.buckets.Delete(ip)
		}
		return true
	})
}

// Allow spends one token from ip's bucket.
func (rl *IPRateLimiter) Allow(ip string) bool {
	if rl.bucketFor(ip).Allow() {
		rl.allowed.Add(1)
		return true
	}
	rl.rejected.Add(1)
	return false
}

// Middleware answers 429 with Retry-After once a client's bucket is empty.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats reports allowed and rejected request totals for /api/stats.
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  rl.allowed.Load(),
		"rejected": rl.rejected.Load(),
	}
}

// GetClientIP returns the request's client address without port.
// middleware.RealIP has already applied X-Forwarded-For / X-Real-IP.
func GetClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// WebSocketRateLimiter caps how many battle feeds one address holds open.
type WebSocketRateLimiter struct {
	slots    sync.Map // client ip → *atomic.Int32
	maxPerIP int
}

func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{maxPerIP: maxPerIP}
}

// Allow takes a feed slot for ip, failing when all are in use.
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	v, _ := wrl.slots.LoadOrStore(ip, new(atomic.Int32))
	used := v.(*atomic.Int32)
	for {
		n := used.Load()
		if int(n) >= wrl.maxPerIP {
			return false
		}
		if used.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release returns a slot taken by Allow.
func (wrl *WebSocketRateLimiter) Release(ip string) {
	if v, ok := wrl.slots.Load(ip); ok {
		v.(*atomic.Int32).Add(-1)
	}
}

// GetConnectionCount is the number of slots ip holds.
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	if v, ok := wrl.slots.Load(ip); ok {
		return int(v.(*atomic.Int32).Load())
	}
	return 0
}

// originAllowed matches origin against patterns. A pattern may hold one
// "*" wildcard, as in "http://localhost:*". Requests without an Origin
// header (non-browser clients) are allowed.
func originAllowed(origin string, patterns []string) bool {
	if origin == "" {
		return true
	}
	for _, p := range patterns {
		if p == "*" || p == origin {
			return true
		}
		prefix, suffix, ok := strings.Cut(p, "*")
		if ok && len(origin) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
