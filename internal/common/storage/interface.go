package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object operations used for result payload archives.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader. size -1 streams until EOF.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error

	// GetObject opens a reader for an object. Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// ListObjects lists object keys under prefix recursively.
	ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo

	// RemoveObjects deletes keys. Missing keys are not an error.
	RemoveObjects(ctx context.Context, bucket string, keys []string) error
}

// ObjectInfo is one listing entry. Err is set when listing failed midway.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
	Err       error
}
