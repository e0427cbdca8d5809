package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// PostgresIdempotencyStore is a durable replay cache. Unlike the in-memory
// store it survives restarts, so a replayed create cannot slip through a
// redeploy window.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresIdempotencyStore wraps db as a replay cache with the given TTL.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db, ttl: ttl}
}

// Init creates the idempotency_keys table.
func (s *PostgresIdempotencyStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	status_code INTEGER NOT NULL,
	headers BYTEA NOT NULL,
	body BYTEA NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idempotency_cached_at ON idempotency_keys (cached_at);
`)
	return err
}

// Check returns the stored response for key. Rows past the TTL are removed
// and reported as misses.
func (s *PostgresIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	var (
		statusCode int
		rawHeaders []byte
		body       []byte
		cachedAt   time.Time
	)
	err := s.db.QueryRow(
		`SELECT status_code, headers, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &rawHeaders, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > s.ttl {
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	headers := make(http.Header)
	if err := json.Unmarshal(rawHeaders, &headers); err != nil || len(headers) == 0 {
		headers = http.Header{"Content-Type": []string{"application/json"}}
	}

	return &cachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   cachedAt,
	}, true
}

// Set records a response under key. Failures are logged and swallowed: a lost
// cache entry means a duplicate request re-executes, which the delivery layer
// already tolerates. Each write also purges rows past the TTL, keeping the
// table bounded without a background sweeper.
func (s *PostgresIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	rawHeaders, err := json.Marshal(headers)
	if err != nil {
		rawHeaders = []byte("{}")
	}

	_, err = s.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, headers, body, cached_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (key) DO UPDATE SET status_code = $2, headers = $3, body = $4, cached_at = NOW()`,
		key, statusCode, rawHeaders, body,
	)
	if err != nil {
		slog.Warn("idempotency: failed to record response", "key", key, "error", err)
		return
	}

	_, _ = s.db.Exec(
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		time.Now().Add(-s.ttl),
	)
}
