package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// memoryStoreSweepEvery is how often the in-memory store drops expired entries.
const memoryStoreSweepEvery = 5 * time.Minute

// cachedResponse is the replayable part of a completed mutation.
type cachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStorer is the replay cache behind IdempotencyMiddleware. Check
// must treat entries past their TTL as misses.
type IdempotencyStorer interface {
	Check(key string) (*cachedResponse, bool)
	Set(key string, statusCode int, headers http.Header, body []byte)
}

// MemoryIdempotencyStore keeps replay entries in process memory. It serves
// single-replica deployments; Postgres-backed deployments use
// PostgresIdempotencyStore so replays survive restarts.
type MemoryIdempotencyStore struct {
	mu    sync.RWMutex
	ttl   time.Duration
	byKey map[string]*cachedResponse
}

// NewIdempotencyStore builds an in-memory store whose entries expire after ttl.
func NewIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		ttl:   ttl,
		byKey: make(map[string]*cachedResponse),
	}
	go s.janitor()
	return s
}

// janitor sweeps expired entries so a long-lived process does not accumulate
// every key it has ever seen.
func (s *MemoryIdempotencyStore) janitor() {
	ticker := time.NewTicker(memoryStoreSweepEvery)
	defer ticker.Stop()
	for range ticker.C {
		s.evictExpired(time.Now())
	}
}

func (s *MemoryIdempotencyStore) evictExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.byKey {
		if now.Sub(entry.CachedAt) > s.ttl {
			delete(s.byKey, key)
		}
	}
}

// Check returns the stored response for key, or a miss when absent or stale.
func (s *MemoryIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	s.mu.RLock()
	entry, ok := s.byKey[key]
	s.mu.RUnlock()

	if !ok || time.Since(entry.CachedAt) >= s.ttl {
		return nil, false
	}
	return entry, true
}

// Set records a response under key, replacing any earlier entry.
func (s *MemoryIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	entry := &cachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   time.Now(),
	}
	s.mu.Lock()
	s.byKey[key] = entry
	s.mu.Unlock()
}

// mutating reports whether the method is subject to idempotent replay.
func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// replay writes a previously recorded response verbatim.
func replay(w http.ResponseWriter, prior *cachedResponse) {
	for name, values := range prior.Headers {
		w.Header()[name] = values
	}
	w.WriteHeader(prior.StatusCode)
	_, _ = w.Write(prior.Body)
}

// recordingWriter tees the response so a successful mutation can be replayed.
type recordingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(p []byte) (int, error) {
	rw.buf.Write(p)
	return rw.ResponseWriter.Write(p)
}

// IdempotencyMiddleware replays the recorded response for repeated mutations
// carrying the same Idempotency-Key header. Only 2xx responses are recorded,
// so a failed attempt may be retried under the same key. Requests without a
// key, and reads, pass straight through.
func IdempotencyMiddleware(store IdempotencyStorer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if prior, ok := store.Check(key); ok {
				replay(w, prior)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				store.Set(key, rec.status, w.Header().Clone(), rec.buf.Bytes())
			}
		})
	}
}
