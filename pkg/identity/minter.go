package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenLifetime is applied when the minter is configured with zero.
const DefaultTokenLifetime = time.Hour

// BearerClaims are the claims carried by outbound provisioning tokens.
// sub and client_id both name the destination's client application; aud is
// the destination base URL; scope is the space-separated scope set the
// operation requires.
type BearerClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// IssuerResolver yields the issuer URL for a tenant. The authorization
// server owns issuer naming; the minter just asks.
type IssuerResolver interface {
	IssuerURL(ctx context.Context, tenantID string) (string, error)
}

// IssuerFunc adapts a function to the IssuerResolver interface.
type IssuerFunc func(ctx context.Context, tenantID string) (string, error)

// IssuerURL implements IssuerResolver.
func (f IssuerFunc) IssuerURL(ctx context.Context, tenantID string) (string, error) {
	return f(ctx, tenantID)
}

// Minter produces destination-scoped bearer tokens. A fresh token is minted
// for every delivery attempt; nothing is cached across retries.
type Minter struct {
	keys     KeySource
	issuer   IssuerResolver
	lifetime time.Duration
}

// NewMinter creates a token minter. lifetime <= 0 selects the default.
func NewMinter(keys KeySource, issuer IssuerResolver, lifetime time.Duration) *Minter {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &Minter{keys: keys, issuer: issuer, lifetime: lifetime}
}

// MintDestinationToken builds and signs a bearer token authorizing one
// delivery attempt against a destination.
func (m *Minter) MintDestinationToken(ctx context.Context, tenantID, clientAppID, baseURL string, scopes []string) (string, error) {
	iss, err := m.issuer.IssuerURL(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve issuer for tenant %s: %w", tenantID, err)
	}
	ks, err := m.keys.KeySetFor(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve key set for tenant %s: %w", tenantID, err)
	}

	now := time.Now().UTC()
	claims := BearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    iss,
			Subject:   clientAppID,
			Audience:  jwt.ClaimStrings{baseURL},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
		},
		ClientID: clientAppID,
		Scope:    strings.Join(scopes, " "),
	}

	signed, err := ks.Sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
