// Package identity mints the short-lived signed bearer tokens outbound SCIM
// requests authenticate with. The authorization-server side (JWKS publication,
// durable key storage) lives elsewhere; this package consumes an abstract
// per-tenant signer.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// maxRetainedKeys bounds how many rotated-out keys stay verifiable. Tokens
// live for minutes, so ten generations is far more history than any
// still-valid token can need.
const maxRetainedKeys = 10

// KeySet signs tokens with a tenant's current active key and can verify
// tokens signed by any key it still remembers.
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc returns the key for verification based on the token header.
	KeyFunc() jwt.Keyfunc
}

// KeySource resolves the KeySet for a tenant.
type KeySource interface {
	KeySetFor(ctx context.Context, tenantID string) (KeySet, error)
}

// InMemoryKeySet holds Ed25519 keys in memory. Rotation installs a fresh
// active key while older generations remain verifiable until they age out of
// the retained window, so rotation never invalidates recently minted tokens.
type InMemoryKeySet struct {
	mu      sync.RWMutex
	active  string
	keys    map[string]ed25519.PrivateKey
	history []string // kids in rotation order, oldest first
}

// NewInMemoryKeySet creates a key set with one freshly generated key.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates and activates a new signing key, evicting the oldest
// generation once the retained window is full.
func (ks *InMemoryKeySet) Rotate() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("identity: generate key: %w", err)
	}
	kid := uuid.NewString()

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.keys[kid] = priv
	ks.history = append(ks.history, kid)
	ks.active = kid

	for len(ks.history) > maxRetainedKeys {
		delete(ks.keys, ks.history[0])
		ks.history = ks.history[1:]
	}
	return nil
}

// Sign creates a signed token with the current active key. The kid header
// carries the key id so verifiers can look up the right public key.
func (ks *InMemoryKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	kid := ks.active
	key := ks.keys[kid]
	ks.mu.RUnlock()

	if key == nil {
		return "", errors.New("identity: no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

// KeyFunc returns a verification key lookup honoring the kid header. Tokens
// not signed with EdDSA are rejected before any key is consulted.
func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("identity: token missing kid header")
		}

		ks.mu.RLock()
		key, known := ks.keys[kid]
		ks.mu.RUnlock()
		if !known {
			return nil, fmt.Errorf("identity: unknown kid %q", kid)
		}
		return key.Public(), nil
	}
}

// InMemoryKeySource lazily creates one key set per tenant.
type InMemoryKeySource struct {
	mu   sync.Mutex
	sets map[string]*InMemoryKeySet
}

// NewInMemoryKeySource creates an empty per-tenant key source.
func NewInMemoryKeySource() *InMemoryKeySource {
	return &InMemoryKeySource{sets: make(map[string]*InMemoryKeySet)}
}

// KeySetFor returns the tenant's key set, generating one on first use.
func (s *InMemoryKeySource) KeySetFor(_ context.Context, tenantID string) (KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ks, ok := s.sets[tenantID]; ok {
		return ks, nil
	}
	ks, err := NewInMemoryKeySet()
	if err != nil {
		return nil, fmt.Errorf("identity: key set for tenant %s: %w", tenantID, err)
	}
	s.sets[tenantID] = ks
	return ks, nil
}
