package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const blobContentType = "application/json"

// S3Store is an S3-backed BlobStore. Objects are keyed by the blob's
// SHA-256 digest, so Put is idempotent across sweeps and processes.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string // optional key prefix, e.g. "deliveries/"
}

// S3Config holds configuration for S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO or LocalStack
	Prefix   string
}

// NewS3Store creates an S3-backed archive store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO and LocalStack route by path, not vhost
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// object returns the bucket and key pointers for a digest, ready to drop
// into SDK input structs.
func (s *S3Store) object(digest string) (bucket, key *string) {
	return aws.String(s.bucket), aws.String(s.prefix + digest + ".json")
}

// head reports whether the blob for digest is already in the bucket.
func (s *S3Store) head(ctx context.Context, digest string) bool {
	bucket, key := s.object(digest)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: bucket, Key: key})
	return err == nil
}

func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	ref, digest := hashRef(data)

	// Re-archiving identical content skips the upload.
	if s.head(ctx, digest) {
		return ref, nil
	}

	bucket, key := s.object(digest)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      bucket,
		Key:         key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(blobContentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return ref, nil
}

func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	bucket, key := s.object(digest)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: bucket, Key: key})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed for %s: %w", ref, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

func (s *S3Store) Exists(ctx context.Context, ref string) (bool, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	return s.head(ctx, digest), nil
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	digest, err := parseRef(ref)
	if err != nil {
		return err
	}

	bucket, key := s.object(digest)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: bucket, Key: key}); err != nil {
		return fmt.Errorf("s3 delete failed for %s: %w", ref, err)
	}
	return nil
}
