//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is a Google Cloud Storage backed BlobStore.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string // optional key prefix, e.g. "deliveries/"
}

// GCSConfig holds configuration for GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed archive store. The client authenticates
// with application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// object resolves the handle for a digest.
func (s *GCSStore) object(digest string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + digest + ".json")
}

// stat reports whether the blob for digest exists, distinguishing a clean
// miss from a lookup failure.
func (s *GCSStore) stat(ctx context.Context, digest string) (bool, error) {
	_, err := s.object(digest).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	ref, digest := hashRef(data)

	// Re-archiving identical content skips the upload.
	if ok, err := s.stat(ctx, digest); err == nil && ok {
		return ref, nil
	}

	w := s.object(digest).NewWriter(ctx)
	w.ContentType = blobContentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return ref, nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	r, err := s.object(digest).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get failed for %s: %w", ref, err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, ref string) (bool, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	return s.stat(ctx, digest)
}

func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	digest, err := parseRef(ref)
	if err != nil {
		return err
	}

	if err := s.object(digest).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", ref, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
