package storage

import (
	"context"
	"io"
)

// ObjectStorage is the subset of an S3-style bucket the archive needs.
type ObjectStorage interface {
	// Upload stores an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens an object for reading. The caller closes it.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL an operator can use to fetch the object.
	GetURL(key string) string

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}
