// Package metadata defines the MetadataStore interface used for every
// durable key-value concern in georoute: the persisted region directory,
// terminal replication job records and the region-scoped cache partitions.
//
// The store contract is deliberately small (get, put with optional TTL,
// delete, prefix list). Implementations that cannot expire records natively
// wrap values in an expiry envelope (see EncodeEnvelope) and hide expired
// records from readers; gc.ExpirySweeper removes them later.
package metadata

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by MetadataStore operations.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("metadata: key not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("metadata: store closed")

	// ErrCorruptEnvelope is returned when a stored value cannot be decoded.
	ErrCorruptEnvelope = errors.New("metadata: corrupt value envelope")
)

// Version represents a key's version in the metadata store.
// A zero version indicates the key has never been written.
type Version int64

// KV represents a key-value pair with its version.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the result of a Get operation.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// PutOption configures a Put operation.
type PutOption func(*putOptions)

type putOptions struct {
	ttl time.Duration
}

// WithTTL makes the written record expire after d. A zero or negative
// duration means the record never expires.
func WithTTL(d time.Duration) PutOption {
	return func(o *putOptions) {
		o.ttl = d
	}
}

// ExtractTTL returns the TTL requested by opts, or 0 when none was set.
func ExtractTTL(opts []PutOption) time.Duration {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl < 0 {
		return 0
	}
	return o.ttl
}

// MetadataStore is the durable key-value contract.
//
// Expired records behave exactly like missing ones for Get and List.
type MetadataStore interface {
	// Get retrieves a value by key.
	// Returns GetResult with Exists=false if the key does not exist (not an error).
	Get(ctx context.Context, key string) (GetResult, error)

	// Put stores a value unconditionally and returns the new version.
	// Use WithTTL to bound the record's lifetime.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the live records directly under prefix in lexicographic
	// key order. If limit is 0 or negative, all matching records are returned.
	List(ctx context.Context, prefix string, limit int) ([]KV, error)

	// Close releases resources held by the store.
	// After Close is called, all operations will return ErrStoreClosed.
	Close() error
}

// ExpiredLister is implemented by stores that keep expired records around
// until they are deleted explicitly.
type ExpiredLister interface {
	// ListExpired returns up to limit keys under prefix whose TTL has passed.
	ListExpired(ctx context.Context, prefix string, limit int) ([]string, error)
}
