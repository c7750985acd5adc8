// Package objectstore defines the Store interface for S3-compatible storage.
//
// georoute keeps each region's content under its own key namespace,
// "<regionId>/<path>" (see RegionKey). Cross-region replication copies
// objects between those namespaces.
//
// # Usage
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rc, err := store.Get(ctx, objectstore.RegionKey("eu-west", "/images/logo.png"))
//	if err != nil {
//	    if errors.Is(err, objectstore.ErrNotFound) {
//	        // Handle missing object
//	    }
//	    return err
//	}
//	defer rc.Close()
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPreconditionFailed is returned when a conditional write fails.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string // Operation that failed (e.g., "Put", "Get", "Delete")
	Key string // Object key
	Err error  // Underlying error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta contains metadata about an object.
type ObjectMeta struct {
	// Key is the object's key (path) in the bucket.
	Key string

	// Size is the object's size in bytes.
	Size int64

	// ContentType is the MIME type of the object.
	ContentType string

	// ETag is the entity tag reported by the backend.
	ETag string

	// LastModified is the Unix timestamp (milliseconds) when the object was last modified.
	LastModified int64

	// Metadata contains user-defined key-value metadata.
	Metadata map[string]string
}

// PutOptions configures a Put operation.
type PutOptions struct {
	// Metadata is optional user-defined key-value pairs stored with the object.
	// Keys are case-insensitive and may be prefixed by the storage provider.
	Metadata map[string]string

	// IfNoneMatch when set to "*" causes the Put to fail with ErrPreconditionFailed
	// if an object already exists at the key.
	IfNoneMatch string
}

// Store is the interface for object storage operations.
//
// Implementations must be safe for concurrent use and return wrapped
// errors using [ObjectError] where appropriate.
type Store interface {
	// Put stores an object at the given key. The size parameter must match
	// the total bytes that will be read from reader.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// PutWithOptions stores an object with user metadata or a create-only
	// precondition.
	PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error

	// Get retrieves an entire object. The caller must close the returned
	// ReadCloser. Returns ErrNotFound if the object doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head retrieves object metadata without the body.
	// Returns ErrNotFound if the object doesn't exist.
	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// List returns objects matching the given prefix in key order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	// Close releases resources associated with the store.
	Close() error
}
