// Package storage provides object storage for archived batch manifests.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStore abstracts the manifest archive. Implementations include S3 and
// local filesystem for testing and single-node deployments.
type ObjectStore interface {
	// Put writes an object, replacing any existing one at the path.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get reads an object. Returns ErrObjectNotFound for unknown paths.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Exists checks whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
