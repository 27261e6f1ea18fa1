package blobstore

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cuemby/crdtd/internal/apperr"
	"github.com/cuemby/crdtd/pkg/metrics"
)

func countOp(op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.BlobOpsTotal.WithLabelValues(op, outcome).Inc()
}

// Store is the object storage operations the snapshot store and
// attachment handlers need. It intentionally does not expose anything
// MinIO-specific so a future backend swap only touches this package.
type Store interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
	PresignPut(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// MinioStore is the Store implementation backed by a MinIO (or any
// S3-compatible) server.
type MinioStore struct {
	client *minio.Client
}

// Config holds the connection parameters read from the MINIO_* environment
// variables.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// New dials the MinIO server. It does not create any buckets; callers
// invoke EnsureBucket for each bucket they need.
func New(cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Fatal, "connect to blob store", err)
	}
	return &MinioStore{client: client}, nil
}

// EnsureBucket creates bucket if it does not already exist, keeping
// storage setup idempotent rather than a separate provisioning step.
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "check bucket", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return apperr.Wrap(apperr.Transient, "create bucket", err)
	}
	return nil
}

// Put uploads data as a single object, overwriting any existing object at
// key.
func (s *MinioStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	countOp("put", err)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "put object", err)
	}
	return nil
}

// Get downloads an object in full. Blob snapshots are bounded by
// practical document size so buffering in memory is acceptable, the same
// assumption the inline Postgres path already makes.
func (s *MinioStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		countOp("get", err)
		return nil, classifyGetErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	countOp("get", err)
	if err != nil {
		return nil, classifyGetErr(err)
	}
	return data, nil
}

// Delete removes an object. Deleting a key that does not exist is not an
// error, matching S3 semantics.
func (s *MinioStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	countOp("delete", err)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "delete object", err)
	}
	return nil
}

// PresignGet issues a time-limited URL an attachment client can use to
// download directly from the blob store.
func (s *MinioStore) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.Transient, "presign get", err)
	}
	return u.String(), nil
}

// PresignPut issues a time-limited URL for direct client upload.
func (s *MinioStore) PresignPut(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, bucket, key, expiry)
	if err != nil {
		return "", apperr.Wrap(apperr.Transient, "presign put", err)
	}
	return u.String(), nil
}

func classifyGetErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return apperr.Wrap(apperr.NotFound, "object not found", err)
	}
	return apperr.Wrap(apperr.Transient, "get object", err)
}
