//go:build !gcp

package archive

import (
	"context"
	"errors"
)

func init() {
	builders[StoreTypeGCS] = func(context.Context) (BlobStore, error) {
		return nil, errors.New("GCS storage is not enabled in this build (use -tags gcp)")
	}
}
