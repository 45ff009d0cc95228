package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/openeo-local/runner/service"
)

// S3Storage implements Storage on a S3-compatible object store (minio client)
type S3Storage struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Storage creates a Storage on the bucket described by an s3://bucket[/prefix] uri.
// The endpoint and the credentials are read from the environment
// (S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, S3_REGION, S3_SSL).
func NewS3Storage(ctx context.Context, storageURI string) (*S3Storage, error) {
	bucket, prefix, err := parseS3URI(storageURI)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(service.Getenv("S3_ENDPOINT", "s3.amazonaws.com"), &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_SECRET_KEY"), ""),
		Secure: service.Getenv("S3_SSL", "true") == "true",
		Region: os.Getenv("S3_REGION"),
	})
	if err != nil {
		return nil, fmt.Errorf("NewS3Storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("NewS3Storage.BucketExists: %w", service.MakeTemporary(err))
	}
	if !exists {
		return nil, fmt.Errorf("NewS3Storage: bucket not found: %s", bucket)
	}

	return &S3Storage{client: client, bucket: bucket, prefix: prefix}, nil
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri || trimmed == "" {
		return "", "", fmt.Errorf("parseS3URI: invalid uri: %s", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

func (s *S3Storage) objectName(jobUUID, name string) string {
	return path.Join(s.prefix, jobUUID, name)
}

// SaveAsset implements Storage
func (s *S3Storage) SaveAsset(ctx context.Context, jobUUID, localFile string) (string, error) {
	object := s.objectName(jobUUID, filepath.Base(localFile))
	if _, err := s.client.FPutObject(ctx, s.bucket, object, localFile, minio.PutObjectOptions{}); err != nil {
		return "", fmt.Errorf("SaveAsset.FPutObject: %w", asTemporary(err))
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, object), nil
}

// ImportAsset implements Storage
func (s *S3Storage) ImportAsset(ctx context.Context, jobUUID, name, localDir string) error {
	object := s.objectName(jobUUID, name)
	if err := s.client.FGetObject(ctx, s.bucket, object, filepath.Join(localDir, name), minio.GetObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return ErrFileNotFound{object}
		}
		return fmt.Errorf("ImportAsset.FGetObject: %w", asTemporary(err))
	}
	return nil
}

// DeleteAsset implements Storage
func (s *S3Storage) DeleteAsset(ctx context.Context, jobUUID, name string) error {
	object := s.objectName(jobUUID, name)
	if _, err := s.client.StatObject(ctx, s.bucket, object, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return ErrFileNotFound{object}
		}
		return fmt.Errorf("DeleteAsset.StatObject: %w", asTemporary(err))
	}
	if err := s.client.RemoveObject(ctx, s.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("DeleteAsset.RemoveObject: %w", asTemporary(err))
	}
	return nil
}

// ListAssets implements Storage
func (s *S3Storage) ListAssets(ctx context.Context, jobUUID string) ([]string, error) {
	jobPrefix := s.objectName(jobUUID, "") + "/"
	var names []string
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: jobPrefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("ListAssets: %w", asTemporary(object.Err))
		}
		names = append(names, strings.TrimPrefix(object.Key, jobPrefix))
	}
	return names, nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return false
}

// asTemporary flags the retriable object-store errors
func asTemporary(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return service.MakeTemporary(err)
		}
		return err
	}
	return service.MakeTemporary(err)
}
