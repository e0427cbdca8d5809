// Package credentials stores the static bearer tokens used for
// destinations in STATIC_BEARER auth mode. Tokens are sealed with
// AES-256-GCM under a key derived per destination from one master
// secret, so a leaked row decrypts nothing else.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// ErrNotFound is returned when no credential is stored for a destination.
var ErrNotFound = errors.New("credential not found")

const hkdfSalt = "halyard/credentials/v1"

// Cipher seals and opens credential values. Keys are derived with
// HKDF-SHA256 from the master secret, bound to the destination id.
type Cipher struct {
	master []byte
}

// NewCipher validates the master secret. Any length of at least 16 bytes
// is accepted; the derived AES keys are always 32 bytes.
func NewCipher(master []byte) (*Cipher, error) {
	if len(master) < 16 {
		return nil, errors.New("master secret must be at least 16 bytes")
	}
	return &Cipher{master: append([]byte(nil), master...)}, nil
}

func (c *Cipher) gcm(destinationID string) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, c.master, []byte(hkdfSalt), []byte("bearer:"+destinationID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext for the destination.
func (c *Cipher) Seal(destinationID, plaintext string) (string, error) {
	gcm, err := c.gcm(destinationID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value sealed for the same destination.
func (c *Cipher) Open(destinationID, sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode credential: %w", err)
	}
	gcm, err := c.gcm(destinationID)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, cipherBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return string(plaintext), nil
}

// Store keeps sealed destination credentials in a SQL database. The
// statements are portable: ciphertext is the only column ever read back,
// so the store runs on PostgreSQL and SQLite alike.
type Store struct {
	db     *sql.DB
	cipher *Cipher
}

func NewStore(db *sql.DB, cipher *Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS scim_destination_credential (
	destination_id TEXT PRIMARY KEY,
	ciphertext TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Init creates the necessary database tables.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

// Put seals and stores the bearer token for a destination, replacing any
// previous value.
func (s *Store) Put(ctx context.Context, destinationID, token string) error {
	sealed, err := s.cipher.Seal(destinationID, token)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO scim_destination_credential (destination_id, ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (destination_id) DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, destinationID, sealed, now)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// BearerToken returns the decrypted token for a destination.
func (s *Store) BearerToken(ctx context.Context, destinationID string) (string, error) {
	var sealed string
	err := s.db.QueryRowContext(ctx,
		`SELECT ciphertext FROM scim_destination_credential WHERE destination_id = $1`,
		destinationID).Scan(&sealed)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	return s.cipher.Open(destinationID, sealed)
}

// Delete removes a destination's credential.
func (s *Store) Delete(ctx context.Context, destinationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scim_destination_credential WHERE destination_id = $1`, destinationID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// MemoryStore keeps sealed credentials in memory, for tests and lite mode.
type MemoryStore struct {
	cipher *Cipher
	mu     sync.RWMutex
	sealed map[string]string
}

func NewMemoryStore(cipher *Cipher) *MemoryStore {
	return &MemoryStore{cipher: cipher, sealed: make(map[string]string)}
}

func (s *MemoryStore) Put(ctx context.Context, destinationID, token string) error {
	sealed, err := s.cipher.Seal(destinationID, token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sealed[destinationID] = sealed
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) BearerToken(ctx context.Context, destinationID string) (string, error) {
	s.mu.RLock()
	sealed, ok := s.sealed[destinationID]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return s.cipher.Open(destinationID, sealed)
}

func (s *MemoryStore) Delete(ctx context.Context, destinationID string) error {
	s.mu.Lock()
	delete(s.sealed, destinationID)
	s.mu.Unlock()
	return nil
}
