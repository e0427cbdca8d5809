package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrQuotaExceeded reports that a caller has drained its bucket.
var ErrQuotaExceeded = errors.New("rate limit exceeded")

// LimitPolicy is a per-tenant quota for admin API traffic.
type LimitPolicy struct {
	RPM   int
	Burst int
}

// ratePerSec converts the per-minute quota into a refill rate. Policies with
// a non-positive RPM refill at one token per second rather than never.
func (p LimitPolicy) ratePerSec() float64 {
	if p.RPM <= 0 {
		return 1
	}
	return float64(p.RPM) / 60.0
}

// LimiterStore holds rate-limit buckets. The in-memory store serves
// single-instance deployments; the Redis store serves fleets where every
// replica must see the same bucket.
type LimiterStore interface {
	// Allow reports whether key may spend cost tokens under policy.
	Allow(ctx context.Context, key string, policy LimitPolicy, cost int) (bool, error)
}

// TokenBucket is a mutex-guarded token bucket.
type TokenBucket struct {
	mu     sync.Mutex
	level  float64
	cap    float64
	perSec float64
	at     time.Time
}

// NewTokenBucket builds a full bucket refilling at ratePerSec up to capacity.
func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return &TokenBucket{
		level:  float64(capacity),
		cap:    float64(capacity),
		perSec: ratePerSec,
		at:     time.Now(),
	}
}

// Allow spends cost tokens if the bucket holds them.
func (tb *TokenBucket) Allow(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	if tb.level < float64(cost) {
		return false
	}
	tb.level -= float64(cost)
	return true
}

func (tb *TokenBucket) refillLocked(now time.Time) {
	tb.level += now.Sub(tb.at).Seconds() * tb.perSec
	if tb.level > tb.cap {
		tb.level = tb.cap
	}
	tb.at = now
}

// InMemoryLimiterStore keeps one bucket per key in process memory.
type InMemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{buckets: make(map[string]*TokenBucket)}
}

func (s *InMemoryLimiterStore) Allow(_ context.Context, key string, policy LimitPolicy, cost int) (bool, error) {
	s.mu.Lock()
	tb, ok := s.buckets[key]
	if !ok {
		tb = NewTokenBucket(policy.ratePerSec(), policy.Burst)
		s.buckets[key] = tb
	}
	s.mu.Unlock()

	return tb.Allow(cost), nil
}

// EvaluateQuota charges one token for key against the store. A nil store
// fails closed: every request is denied until a store is configured.
func EvaluateQuota(ctx context.Context, store LimiterStore, key string, policy LimitPolicy) error {
	if store == nil {
		return errors.New("quota: no limiter store configured")
	}

	allowed, err := store.Allow(ctx, key, policy, 1)
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("quota: %w for %s", ErrQuotaExceeded, key)
	}
	return nil
}

// TenantRateLimit throttles requests per tenant through the given store.
// Requests without an X-Tenant-ID header fall back to the client IP so
// unauthenticated traffic still lands in a bucket.
func TenantRateLimit(store LimiterStore, policy LimitPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Tenant-ID")
		if key == "" {
			key = clientIP(r)
		}

		if err := EvaluateQuota(r.Context(), store, key, policy); err != nil {
			WriteTooManyRequests(w, 5)
			return
		}

		next.ServeHTTP(w, r)
	})
}
