// Package clientapps manages the OAuth client applications and tenant
// scopes that destinations authenticate with. Application secrets are
// returned raw exactly once at creation; only a SHA-256 hash is stored.
package clientapps

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrApplicationNotFound is returned when a client application id is unknown.
var ErrApplicationNotFound = errors.New("client application not found")

// ClientApp is a registered OAuth client application within one tenant.
type ClientApp struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	SecretHash string    `json:"-"`
	Scopes     []string  `json:"scopes"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasScope reports whether the application holds the given scope.
func (a *ClientApp) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// GenerateSecret creates a client secret and its at-rest hash.
func GenerateSecret() (raw, hash string) {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	raw = "scim_" + hex.EncodeToString(bytes)
	return raw, HashSecret(raw)
}

// HashSecret returns the hex SHA-256 digest stored for a raw secret.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
