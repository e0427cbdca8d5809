package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// bucketIdleAfter is how long an IP bucket may go unused before the
	// sweeper drops it.
	bucketIdleAfter  = 3 * time.Minute
	bucketSweepEvery = time.Minute
)

// GlobalRateLimiter applies a token-bucket limit per caller IP across the
// whole admin surface. The per-tenant quota in limiter.go runs separately,
// behind this one.
type GlobalRateLimiter struct {
	mu    sync.Mutex
	byIP  map[string]*ipBucket
	rps   rate.Limit
	burst int
}

type ipBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewGlobalRateLimiter allows rps sustained requests per second with the
// given burst, tracked per caller IP.
func NewGlobalRateLimiter(rps, burst int) *GlobalRateLimiter {
	g := &GlobalRateLimiter{
		byIP:  make(map[string]*ipBucket),
		rps:   rate.Limit(rps),
		burst: burst,
	}
	go g.sweep()
	return g
}

// sweep drops buckets idle past bucketIdleAfter so the map stays bounded.
func (g *GlobalRateLimiter) sweep() {
	ticker := time.NewTicker(bucketSweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		g.mu.Lock()
		for ip, b := range g.byIP {
			if time.Since(b.lastSeen) > bucketIdleAfter {
				delete(g.byIP, ip)
			}
		}
		g.mu.Unlock()
	}
}

func (g *GlobalRateLimiter) bucket(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.byIP[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(g.rps, g.burst)}
		g.byIP[ip] = b
	}
	b.lastSeen = time.Now()
	return b.lim
}

// Middleware rejects callers whose bucket is empty with a 429.
func (g *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.bucket(clientIP(r)).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP derives the bucket key from the peer address. The admin listener
// faces its callers directly, so forwarded-for headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	// No port, likely a bare IP; strip IPv6 brackets if present.
	return strings.Trim(r.RemoteAddr, "[]")
}

// RequestID assigns each request a unique ID, honoring a caller-supplied
// X-Request-ID so upstream gateways can correlate. The ID is echoed on the
// response and feeds the problem+json trace_id field via WriteErrorR.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
