// Package s3storage wraps MinIO/S3 for the documents' working PDFs and the
// signers' signature images.
package s3storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/worawit/docflow/internal/config"
)

var (
	ErrUpload        = errors.New("upload failed")
	ErrFetch         = errors.New("fetch failed")
	ErrObjectExists  = errors.New("object already exists")
	ErrObjectMissing = errors.New("object does not exist")
)

// Storage is the storage boundary. Uploads never overwrite: the working PDF
// of each revision gets its own key and the superseded revision is removed
// only after the state-machine commit succeeds.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, bucket: cfg.DocumentBucket, region: cfg.S3Region}, nil
}

// EnsureBucket makes sure the document bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload stores bytes under objectKey and fails if the key is already taken.
func (s *Storage) Upload(ctx context.Context, objectKey string, data []byte, contentType string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{}); err == nil {
		return fmt.Errorf("%w: %s", ErrObjectExists, objectKey)
	} else if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("%w: stat %s: %v", ErrUpload, objectKey, err)
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUpload, objectKey, err)
	}
	return nil
}

// Download fetches an object's bytes.
func (s *Storage) Download(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrFetch, objectKey, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectMissing, objectKey)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrFetch, objectKey, err)
	}
	return buf, nil
}

// Remove deletes an object. Used only for superseded PDF revisions, after
// the replacing revision is committed.
func (s *Storage) Remove(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", objectKey, err)
	}
	return nil
}
