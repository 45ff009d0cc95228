// Package storage persists the result assets of the jobs, either on the
// local filesystem or in a S3-compatible object store.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// ErrFileNotFound is an error returned by ImportAsset or DeleteAsset
type ErrFileNotFound struct {
	File string
}

func (e ErrFileNotFound) Error() string {
	return fmt.Sprintf("File not found: %s", e.File)
}

// Storage is a service to store and retrieve the assets of a job
type Storage interface {
	// SaveAsset persists a local file under the job prefix and returns its uri
	SaveAsset(ctx context.Context, jobUUID, localFile string) (string, error)
	// ImportAsset imports the named asset of the job into localDir
	// Raise ErrFileNotFound
	ImportAsset(ctx context.Context, jobUUID, name, localDir string) error
	// DeleteAsset deletes the named asset of the job
	// Raise ErrFileNotFound
	DeleteAsset(ctx context.Context, jobUUID, name string) error
	// ListAssets returns the asset names of the job
	ListAssets(ctx context.Context, jobUUID string) ([]string, error)
}

// NewStorage creates the storage described by the uri
// (currently supported: local path, file://, s3://bucket[/prefix])
func NewStorage(ctx context.Context, storageURI string) (Storage, error) {
	switch {
	case strings.HasPrefix(storageURI, "s3://"):
		return NewS3Storage(ctx, storageURI)
	case strings.HasPrefix(storageURI, "file://"):
		return NewLocalStorage(strings.TrimPrefix(storageURI, "file://"))
	case storageURI != "":
		return NewLocalStorage(storageURI)
	}
	return nil, fmt.Errorf("NewStorage: empty storage uri")
}
