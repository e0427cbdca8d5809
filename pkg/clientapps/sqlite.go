package clientapps

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore implements the client application registry on SQLite for
// single-node deployments. Times are stored as RFC 3339 text; SQLite has no
// native timestamp type.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scim_tenant_scope (
	tenant_id TEXT NOT NULL,
	scope TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, scope)
);

CREATE TABLE IF NOT EXISTS scim_client_app (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	secret_hash TEXT NOT NULL,
	scopes TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scim_client_app_tenant ON scim_client_app(tenant_id);
`

const sqliteTimeFormat = "2006-01-02 15:04:05.999999999"

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to init client app schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureTenantScopes(ctx context.Context, tenantID string, scopes []string) error {
	query := `
		INSERT INTO scim_tenant_scope (tenant_id, scope, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id, scope) DO NOTHING
	`
	now := time.Now().UTC().Format(sqliteTimeFormat)
	for _, scope := range scopes {
		if _, err := s.db.ExecContext(ctx, query, tenantID, scope, now); err != nil {
			return fmt.Errorf("failed to ensure scope %s: %w", scope, err)
		}
	}
	return nil
}

func (s *SQLiteStore) TenantScopes(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope FROM scim_tenant_scope WHERE tenant_id = ? ORDER BY scope ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant scopes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		out = append(out, scope)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateApplication(ctx context.Context, tenantID, name string, scopes []string) (string, string, error) {
	raw, hash := GenerateSecret()
	id := uuid.NewString()

	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal scopes: %w", err)
	}

	query := `
		INSERT INTO scim_client_app (id, tenant_id, name, secret_hash, scopes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, id, tenantID, name, hash, string(scopesJSON),
		time.Now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return "", "", fmt.Errorf("failed to create client application: %w", err)
	}
	return id, raw, nil
}

func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*ClientApp, error) {
	query := `
		SELECT id, tenant_id, name, secret_hash, scopes, created_at
		FROM scim_client_app WHERE id = ?
	`
	var (
		app        ClientApp
		scopesJSON string
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&app.ID, &app.TenantID, &app.Name, &app.SecretHash, &scopesJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client application: %w", err)
	}
	if err := json.Unmarshal([]byte(scopesJSON), &app.Scopes); err != nil {
		return nil, fmt.Errorf("corrupt scopes for application %s: %w", id, err)
	}
	if t, err := time.Parse(sqliteTimeFormat, createdAt); err == nil {
		app.CreatedAt = t
	}
	return &app, nil
}

func (s *SQLiteStore) ApplicationScopes(ctx context.Context, id string) ([]string, error) {
	app, err := s.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	return app.Scopes, nil
}

func (s *SQLiteStore) VerifySecret(ctx context.Context, id, raw string) (bool, error) {
	app, err := s.GetApplication(ctx, id)
	if err != nil {
		return false, err
	}
	return app.SecretHash == HashSecret(raw), nil
}
