// Package s3 implements the blob store on S3-compatible object storage
// (MinIO in development, AWS in production).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
)

// Store is the S3-backed blob store scoped to one bucket.
type Store struct {
	client  *awss3.Client
	presign *awss3.PresignClient
	upload  *manager.Uploader
	bucket  string
}

// New builds a Store from configuration. A non-empty endpoint switches the
// client to path-style addressing, which MinIO requires.
func New(ctx context.Context, cfg config.Config) (*Store, error) {
	opts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("op=s3.config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		}
	})
	return &Store{
		client:  client,
		presign: awss3.NewPresignClient(client),
		upload:  manager.NewUploader(client),
		bucket:  cfg.S3Bucket,
	}, nil
}

// Upload streams r into the bucket under key.
func (s *Store) Upload(ctx domain.Context, key string, r io.Reader, metadata map[string]string) error {
	_, err := s.upload.Upload(ctx, &awss3.PutObjectInput{
		Bucket:   &s.bucket,
		Key:      &key,
		Body:     r,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("op=s3.upload key=%s: %w", key, err)
	}
	return nil
}

// Download reads the whole object into memory.
func (s *Store) Download(ctx domain.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var nk *types.NoSuchKey
		if errors.As(err, &nk) {
			return nil, fmt.Errorf("op=s3.download key=%s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=s3.download key=%s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("op=s3.download key=%s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Delete removes one object; deleting a missing key is not an error.
func (s *Store) Delete(ctx domain.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return fmt.Errorf("op=s3.delete key=%s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx domain.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("op=s3.exists key=%s: %w", key, err)
	}
	return true, nil
}

// ListObjects returns up to limit objects under prefix.
func (s *Store) ListObjects(ctx domain.Context, prefix string, limit int) ([]domain.ObjectInfo, error) {
	var out []domain.ObjectInfo
	p := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("op=s3.list prefix=%s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, domain.ObjectInfo{Key: *obj.Key, Size: *obj.Size})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// PresignedURL returns a time-limited GET URL for the key.
func (s *Store) PresignedURL(ctx domain.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &awss3.GetObjectInput{Bucket: &s.bucket, Key: &key},
		awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("op=s3.presign key=%s: %w", key, err)
	}
	return req.URL, nil
}

// PresignedUploadURL returns a time-limited PUT URL for the key.
func (s *Store) PresignedUploadURL(ctx domain.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &awss3.PutObjectInput{Bucket: &s.bucket, Key: &key},
		awss3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("op=s3.presign_upload key=%s: %w", key, err)
	}
	return req.URL, nil
}

// DeletePrefix removes every object under prefix and returns the count.
// Failures partway leave earlier deletions in place; callers treat this as
// best-effort cleanup.
func (s *Store) DeletePrefix(ctx domain.Context, prefix string) (int, error) {
	deleted := 0
	p := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("op=s3.delete_prefix prefix=%s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: &s.bucket,
			Delete: &types.Delete{Objects: ids},
		})
		if err != nil {
			return deleted, fmt.Errorf("op=s3.delete_prefix prefix=%s: %w", prefix, err)
		}
		deleted += len(out.Deleted)
	}
	return deleted, nil
}
