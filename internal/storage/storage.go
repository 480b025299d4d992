// Package storage keeps received EDI files and their processed archive.
package storage

import (
	"context"
	"io"
)

// Driver defines how we interact with the binary storage
type Driver interface {
	// Save writes the content under key, replacing any existing object
	Save(ctx context.Context, key string, body io.Reader, contentType string) error

	// Get returns a ReadCloser to stream the file back and its content type
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)

	// Delete removes the file; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// List returns the keys that start with prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)
}
