// Package archive moves terminal deliveries past their retention window out
// of the hot store and into content-addressed blob storage (filesystem, S3,
// or GCS). Blobs are canonical JSON, addressed by "sha256:<hex>" of their
// bytes, so re-archiving the same record is a no-op on every backend.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BlobStore is the contract for content-addressed archive storage.
type BlobStore interface {
	// Put persists data and returns its content ref ("sha256:<hex>").
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content ref.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists checks whether a blob exists by its content ref.
	Exists(ctx context.Context, ref string) (bool, error)
	// Delete removes a blob by its content ref.
	Delete(ctx context.Context, ref string) error
}

// hashRef computes the content ref for data.
func hashRef(data []byte) (ref, hexDigest string) {
	sum := sha256.Sum256(data)
	hexDigest = hex.EncodeToString(sum[:])
	return "sha256:" + hexDigest, hexDigest
}

// parseRef validates a "sha256:<hex>" ref and returns the hex digest.
func parseRef(ref string) (string, error) {
	if len(ref) < 8 || ref[:7] != "sha256:" {
		return "", fmt.Errorf("invalid blob ref format: %s", ref)
	}
	raw := ref[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid blob ref hex: %w", err)
	}
	return raw, nil
}

// FileStore is a filesystem-backed BlobStore. Blobs land as
// <dir>/<hex>.json via a staging-file rename, so a crashed sweep never
// leaves a half-written archive behind.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a blob store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for a shared archive directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// path resolves the on-disk location for a digest.
func (s *FileStore) path(digest string) string {
	return filepath.Join(s.baseDir, digest+".json")
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, digest := hashRef(data)
	dst := s.path(digest)

	// Identical content is already on disk.
	if _, err := os.Stat(dst); err == nil {
		return ref, nil
	}

	staging := dst + ".partial"
	//nolint:gosec // G306: 0644 is intentional for readable archive files
	if err := os.WriteFile(staging, data, 0644); err != nil {
		return "", fmt.Errorf("failed to stage archive blob: %w", err)
	}
	if err := os.Rename(staging, dst); err != nil {
		_ = os.Remove(staging)
		return "", fmt.Errorf("failed to commit archive blob: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(digest)) //nolint:gosec // digest validated as hex
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("archive blob not found: %s", ref)
	}
	return data, err
}

func (s *FileStore) Exists(ctx context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(s.path(digest))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FileStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(digest)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete archive blob: %w", err)
	}
	return nil
}
