// Package oxia implements the MetadataStore interface using Oxia.
package oxia

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/georoute-io/georoute/internal/metadata"
)

// Config configures the Oxia metadata store.
type Config struct {
	// ServiceAddress is the Oxia service endpoint (e.g., "localhost:6648").
	ServiceAddress string

	// Namespace is the Oxia namespace to use (e.g., "georoute").
	Namespace string

	// RequestTimeout is the timeout for individual requests.
	// Default: client default (30 seconds).
	RequestTimeout time.Duration

	// Now overrides the clock used for TTL evaluation. Tests only.
	Now func() time.Time
}

// Store implements MetadataStore using Oxia.
type Store struct {
	client oxiaclient.SyncClient
	config Config
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// New creates a new Oxia metadata store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ServiceAddress == "" {
		return nil, errors.New("oxia: service address is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("oxia: namespace is required")
	}

	opts := []oxiaclient.ClientOption{
		oxiaclient.WithNamespace(cfg.Namespace),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(cfg.RequestTimeout))
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		client: client,
		config: cfg,
		now:    now,
	}, nil
}

// oxiaToMetadataVersion converts Oxia's 0-based version to our 1-based version.
// Oxia versions start at 0, but our interface uses 0 to mean "key doesn't exist".
func oxiaToMetadataVersion(oxiaVersion int64) metadata.Version {
	return metadata.Version(oxiaVersion + 1)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}
	return nil
}

// Get retrieves a value by key. Expired records are reported as missing.
func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := s.checkOpen(); err != nil {
		return metadata.GetResult{}, err
	}

	_, raw, version, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return metadata.GetResult{Exists: false}, nil
		}
		return metadata.GetResult{}, fmt.Errorf("oxia: get failed: %w", err)
	}

	value, expiresAt, err := metadata.DecodeEnvelope(raw)
	if err != nil {
		return metadata.GetResult{}, fmt.Errorf("oxia: get %s: %w", key, err)
	}
	if metadata.IsExpired(expiresAt, s.now()) {
		return metadata.GetResult{Exists: false}, nil
	}

	return metadata.GetResult{
		Value:   value,
		Version: oxiaToMetadataVersion(version.VersionId),
		Exists:  true,
	}, nil
}

// Put stores a value wrapped in an expiry envelope.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.PutOption) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	expiresAt := metadata.ExpiresAt(s.now(), metadata.ExtractTTL(opts))
	_, version, err := s.client.Put(ctx, key, metadata.EncodeEnvelope(value, expiresAt))
	if err != nil {
		return 0, fmt.Errorf("oxia: put failed: %w", err)
	}

	return oxiaToMetadataVersion(version.VersionId), nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.client.Delete(ctx, key); err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			// Delete is idempotent - key not found is not an error
			return nil
		}
		return fmt.Errorf("oxia: delete failed: %w", err)
	}
	return nil
}

// List returns the live records under prefix in key order.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]metadata.KV, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	now := s.now()
	var kvs []metadata.KV
	err := s.scan(ctx, prefix, func(res oxiaclient.GetResult, value []byte, expiresAt time.Time) bool {
		if metadata.IsExpired(expiresAt, now) {
			return true
		}
		kvs = append(kvs, metadata.KV{
			Key:     res.Key,
			Value:   value,
			Version: oxiaToMetadataVersion(res.Version.VersionId),
		})
		return limit <= 0 || len(kvs) < limit
	})
	if err != nil {
		return nil, err
	}
	return kvs, nil
}

// ListExpired returns keys under prefix whose TTL has passed.
func (s *Store) ListExpired(ctx context.Context, prefix string, limit int) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	now := s.now()
	var keys []string
	err := s.scan(ctx, prefix, func(res oxiaclient.GetResult, _ []byte, expiresAt time.Time) bool {
		if !metadata.IsExpired(expiresAt, now) {
			return true
		}
		keys = append(keys, res.Key)
		return limit <= 0 || len(keys) < limit
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// scan range-scans prefix and calls fn for every decodable record until fn
// returns false. Records with a corrupt envelope are skipped.
func (s *Store) scan(ctx context.Context, prefix string, fn func(oxiaclient.GetResult, []byte, time.Time) bool) error {
	// Oxia uses a custom key sorting that treats '/' specially.
	// For prefix listing ending with '/', the double slash end key selects
	// all direct children. Otherwise, use prefixEnd.
	var endKey string
	if strings.HasSuffix(prefix, "/") {
		endKey = prefix + "/"
	} else {
		endKey = prefixEnd(prefix)
	}

	results := s.client.RangeScan(ctx, prefix, endKey)
	for result := range results {
		if result.Err != nil {
			go drainRangeScan(results)
			return fmt.Errorf("oxia: list failed: %w", result.Err)
		}
		value, expiresAt, err := metadata.DecodeEnvelope(result.Value)
		if err != nil {
			continue
		}
		if !fn(result, value, expiresAt) {
			go drainRangeScan(results)
			return nil
		}
	}
	return nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// prefixEnd returns the key that is lexicographically greater than all keys
// with the given prefix.
func prefixEnd(prefix string) string {
	if prefix == "" {
		return ""
	}

	// Find the last byte that is not 0xFF
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}

	// All bytes are 0xFF, no end key possible
	return ""
}

func drainRangeScan(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var (
	_ metadata.MetadataStore = (*Store)(nil)
	_ metadata.ExpiredLister = (*Store)(nil)
)
