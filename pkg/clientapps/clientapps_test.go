package clientapps

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	raw, hash := GenerateSecret()
	if !strings.HasPrefix(raw, "scim_") {
		t.Errorf("secret missing prefix: %s", raw)
	}
	if len(raw) != len("scim_")+64 {
		t.Errorf("unexpected secret length %d", len(raw))
	}
	if hash == raw {
		t.Error("hash must differ from the raw secret")
	}
	if HashSecret(raw) != hash {
		t.Error("hash not reproducible from raw secret")
	}

	raw2, _ := GenerateSecret()
	if raw == raw2 {
		t.Error("two generated secrets collided")
	}
}

func TestMemoryStore_EnsureTenantScopesIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	scopes := []string{"scim:users:write", "scim:groups:write"}
	if err := s.EnsureTenantScopes(ctx, "tenant-1", scopes); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.EnsureTenantScopes(ctx, "tenant-1", scopes); err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	got, err := s.TenantScopes(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "scim:groups:write" || got[1] != "scim:users:write" {
		t.Fatalf("expected exactly the two scopes, got %v", got)
	}
}

func TestMemoryStore_CreateApplication(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	id, raw, err := s.CreateApplication(ctx, "tenant-1", "Workday SCIM Client", []string{"scim:users:write"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" || !strings.HasPrefix(raw, "scim_") {
		t.Fatalf("unexpected id/secret: %q / %q", id, raw)
	}

	app, err := s.GetApplication(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if app.SecretHash == raw {
		t.Error("raw secret stored instead of hash")
	}
	if app.SecretHash != HashSecret(raw) {
		t.Error("stored hash does not match the issued secret")
	}

	scopes, err := s.ApplicationScopes(ctx, id)
	if err != nil {
		t.Fatalf("scopes: %v", err)
	}
	if len(scopes) != 1 || scopes[0] != "scim:users:write" {
		t.Fatalf("unexpected scopes: %v", scopes)
	}

	ok, err := s.VerifySecret(ctx, id, raw)
	if err != nil || !ok {
		t.Fatalf("expected secret to verify, got (%v, %v)", ok, err)
	}
	ok, _ = s.VerifySecret(ctx, id, "scim_wrong")
	if ok {
		t.Error("wrong secret verified")
	}

	if _, err := s.ApplicationScopes(ctx, "missing"); err != ErrApplicationNotFound {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
}

func TestPostgresStore_EnsureTenantScopes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)

	for range []int{0, 1} {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scim_tenant_scope")).
			WithArgs("tenant-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	err = s.EnsureTenantScopes(context.Background(), "tenant-1",
		[]string{"scim:users:write", "scim:groups:write"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplicationScopes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "name", "secret_hash", "scopes", "created_at"}).
		AddRow("app-1", "tenant-1", "Workday SCIM Client", "deadbeef",
			[]byte(`["scim:users:write","scim:groups:write"]`), time.Now().UTC())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tenant_id, name, secret_hash, scopes, created_at")).
		WithArgs("app-1").
		WillReturnRows(rows)

	scopes, err := s.ApplicationScopes(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"scim:users:write", "scim:groups:write"}, scopes)
}

func TestPostgresStore_ApplicationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tenant_id, name, secret_hash, scopes, created_at")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = s.ApplicationScopes(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrApplicationNotFound)
}
