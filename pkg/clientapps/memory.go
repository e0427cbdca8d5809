package clientapps

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps client applications and tenant scopes in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	apps   map[string]*ClientApp
	scopes map[string]map[string]bool // tenant id -> scope set
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:   make(map[string]*ClientApp),
		scopes: make(map[string]map[string]bool),
	}
}

// EnsureTenantScopes registers the scopes for a tenant. Already-present
// scopes are left untouched, so repeated calls are safe.
func (s *MemoryStore) EnsureTenantScopes(ctx context.Context, tenantID string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.scopes[tenantID]
	if !ok {
		set = make(map[string]bool)
		s.scopes[tenantID] = set
	}
	for _, scope := range scopes {
		set[scope] = true
	}
	return nil
}

// TenantScopes returns the scopes registered for a tenant.
func (s *MemoryStore) TenantScopes(ctx context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for scope := range s.scopes[tenantID] {
		out = append(out, scope)
	}
	return out, nil
}

// CreateApplication registers a client application and returns its id and
// the raw secret, which is never retrievable again.
func (s *MemoryStore) CreateApplication(ctx context.Context, tenantID, name string, scopes []string) (string, string, error) {
	raw, hash := GenerateSecret()
	app := &ClientApp{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Name:       name,
		SecretHash: hash,
		Scopes:     append([]string(nil), scopes...),
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.apps[app.ID] = app
	s.mu.Unlock()
	return app.ID, raw, nil
}

// GetApplication returns the application or ErrApplicationNotFound.
func (s *MemoryStore) GetApplication(ctx context.Context, id string) (*ClientApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, ErrApplicationNotFound
	}
	cp := *app
	cp.Scopes = append([]string(nil), app.Scopes...)
	return &cp, nil
}

// ApplicationScopes returns the scopes granted to an application.
func (s *MemoryStore) ApplicationScopes(ctx context.Context, id string) ([]string, error) {
	app, err := s.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	return app.Scopes, nil
}

// VerifySecret reports whether raw matches the application's stored hash.
func (s *MemoryStore) VerifySecret(ctx context.Context, id, raw string) (bool, error) {
	app, err := s.GetApplication(ctx, id)
	if err != nil {
		return false, err
	}
	return app.SecretHash == HashSecret(raw), nil
}
