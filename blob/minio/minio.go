// Package minio stores blobs in an S3-compatible bucket, one object per
// content digest.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/warp/claims-engine/blob"
)

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Location  string
	Secure    bool
}

// Store implements blob.Store on MinIO.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ blob.Store = (*Store)(nil)

// New connects and ensures the bucket exists.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket, logger: logger}
	if err := s.ensureBucket(ctx, cfg.Location); err != nil {
		return nil, err
	}
	logger.Info("blob store ready", "endpoint", endpoint, "bucket", cfg.Bucket)
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context, location string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created bucket", "bucket", s.bucket)
	return nil
}

// objectName shards by the first two hex characters.
func objectName(digest string) string {
	return digest[:2] + "/" + digest
}

func (s *Store) Put(ctx context.Context, data []byte) (blob.Ref, error) {
	ref := blob.RefOf(data)
	digest, _ := ref.Digest()
	_, err := s.client.PutObject(ctx, s.bucket, objectName(digest), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", ref, err)
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, ref blob.Ref) ([]byte, error) {
	digest, err := ref.Digest()
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(digest), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	if err := ref.Verify(data); err != nil {
		return nil, err
	}
	return data, nil
}
