//go:build gcp

package archive

import (
	"context"
	"fmt"
	"os"
)

func init() {
	builders[StoreTypeGCS] = newGCSStoreFromEnv
}

func newGCSStoreFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("ARCHIVE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARCHIVE_GCS_BUCKET is required for GCS storage")
	}

	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ARCHIVE_GCS_PREFIX"),
	})
}
