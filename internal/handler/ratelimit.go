package handler

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"safechat/internal/logging"
	"safechat/internal/metrics"
)

// limiterPool holds one token bucket per caller. A bucket refills max tokens
// over window. Buckets idle for a whole window are full again, so they are
// evicted and recreated on demand.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(window time.Duration, maxRequests int) *limiterPool {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if maxRequests <= 0 {
		maxRequests = 100
	}
	return &limiterPool{
		m:      make(map[string]*limiterEntry),
		limit:  rate.Every(window / time.Duration(maxRequests)),
		burst:  maxRequests,
		window: window,
		now:    time.Now,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) >= p.window {
		p.sweep(now)
	}

	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	return e.lim
}

// sweep drops buckets unused for a window. Callers hold mu.
func (p *limiterPool) sweep(now time.Time) {
	for key, e := range p.m {
		if now.Sub(e.lastSeen) >= p.window {
			delete(p.m, key)
		}
	}
	p.lastSweep = now
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// callerKey identifies the caller by identity, falling back to the remote
// host without its port.
func callerKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(identityHeader)); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// rateLimited rejects callers that exhausted their bucket with 429.
func (h *Handler) rateLimited(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r)
		if !h.limiter.Allow(key) {
			metrics.RateLimitHits.WithLabelValues(route).Inc()
			logging.Warn().Str("route", route).Str("caller", key).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(h.limiter.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "Too many messages, please try again later")
			return
		}
		next(w, r)
	})
}
