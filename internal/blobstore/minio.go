package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/metrics"
)

const (
	minioBackend = "minio"
	objectPrefix = "blobs/"
)

// objectClient is the part of *minio.Client the store uses
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinIO stores blobs as objects and hands out presigned GET URLs
type MinIO struct {
	client     objectClient
	bucketName string
	expiry     time.Duration
	maxSize    int64
	log        *logging.Logger

	mu      sync.Mutex
	objects map[string]string // object url -> object name
}

// NewMinIO connects to object storage and ensures the bucket exists
func NewMinIO(cfg config.StorageConfig, maxSize int64, logger *logging.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return newMinIO(client, cfg.BucketName, cfg.URLExpiry, maxSize, logger), nil
}

func newMinIO(client objectClient, bucket string, expiry time.Duration, maxSize int64, logger *logging.Logger) *MinIO {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &MinIO{
		client:     client,
		bucketName: bucket,
		expiry:     expiry,
		maxSize:    maxSize,
		log:        logger.WithComponent("blobstore"),
		objects:    make(map[string]string),
	}
}

// Create implements Store
func (s *MinIO) Create(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	if s.maxSize > 0 {
		if size > s.maxSize {
			metrics.RecordBlobCreated(minioBackend, 0, ErrTooLarge)
			return "", ErrTooLarge
		}
		if size < 0 {
			r = &limitedReader{r: r, remaining: s.maxSize}
		}
	}

	objectName := objectPrefix + uuid.New().String()
	start := time.Now()

	info, err := s.client.PutObject(ctx, s.bucketName, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	s.log.LogStorageOperation("put", s.bucketName, objectName, info.Size, time.Since(start), err)
	if err != nil {
		metrics.RecordBlobCreated(minioBackend, 0, err)
		return "", fmt.Errorf("failed to upload object: %w", err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, s.expiry, nil)
	if err != nil {
		s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
		metrics.RecordBlobCreated(minioBackend, 0, err)
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	objectURL := u.String()
	s.mu.Lock()
	s.objects[objectURL] = objectName
	s.mu.Unlock()

	metrics.RecordBlobCreated(minioBackend, info.Size, nil)
	return objectURL, nil
}

// Revoke implements Store
func (s *MinIO) Revoke(ctx context.Context, objectURL string) error {
	s.mu.Lock()
	objectName, ok := s.objects[objectURL]
	delete(s.objects, objectURL)
	s.mu.Unlock()

	if !ok {
		metrics.RecordBlobRevoked(minioBackend, ErrNotFound)
		return ErrNotFound
	}

	start := time.Now()
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	s.log.LogStorageOperation("remove", s.bucketName, objectName, 0, time.Since(start), err)
	metrics.RecordBlobRevoked(minioBackend, err)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// limitedReader fails instead of truncating once the limit is passed
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
