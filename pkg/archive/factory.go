package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType names an archive storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// builders maps each backend to its environment-driven constructor. The GCS
// entry is registered by factory_gcp.go under -tags gcp; without the tag a
// stub that refuses with a pointer to the build tag takes its place.
var builders = map[StoreType]func(context.Context) (BlobStore, error){
	StoreTypeFS: newFileStoreFromEnv,
	StoreTypeS3: newS3StoreFromEnv,
}

// NewStoreFromEnv builds the blob store selected by ARCHIVE_STORAGE_TYPE
// ("fs" by default, "s3", or "gcs").
//
// Filesystem: ARCHIVE_DIR (default "data") holds the archive/ subtree.
// S3: ARCHIVE_S3_BUCKET (required), ARCHIVE_S3_REGION or AWS_REGION,
// ARCHIVE_S3_ENDPOINT (MinIO/LocalStack), ARCHIVE_S3_PREFIX.
// GCS: ARCHIVE_GCS_BUCKET (required), ARCHIVE_GCS_PREFIX.
func NewStoreFromEnv(ctx context.Context) (BlobStore, error) {
	storeType := StoreType(envOr("ARCHIVE_STORAGE_TYPE", string(StoreTypeFS)))

	build, ok := builders[storeType]
	if !ok {
		return nil, fmt.Errorf("unsupported archive storage type: %s", storeType)
	}
	return build(ctx)
}

func newFileStoreFromEnv(context.Context) (BlobStore, error) {
	dataDir := envOr("ARCHIVE_DIR", "data")
	return NewFileStore(filepath.Join(dataDir, "archive"))
}

func newS3StoreFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARCHIVE_S3_BUCKET is required for S3 storage")
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   s3Region(),
		Endpoint: os.Getenv("ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("ARCHIVE_S3_PREFIX"),
	})
}

// s3Region resolves the bucket region, preferring the archive-specific
// variable over the ambient AWS one.
func s3Region() string {
	if r := os.Getenv("ARCHIVE_S3_REGION"); r != "" {
		return r
	}
	return envOr("AWS_REGION", "us-east-1")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
