package metadata

import (
	"context"
	"time"
)

// KVMetricsRecorder is the interface for recording durable KV operation metrics.
// This allows the metadata package to be decoupled from the metrics package.
type KVMetricsRecorder interface {
	RecordGet(durationSeconds float64, success bool)
	RecordPut(durationSeconds float64, success bool)
	RecordDelete(durationSeconds float64, success bool)
	RecordList(durationSeconds float64, success bool)
}

// InstrumentedStore wraps a MetadataStore and records metrics for each operation.
type InstrumentedStore struct {
	store   MetadataStore
	metrics KVMetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a MetadataStore.
// If metrics is nil, no metrics are recorded and operations pass through directly.
func NewInstrumentedStore(store MetadataStore, metrics KVMetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

// Get retrieves a value by key.
func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	start := time.Now()
	result, err := s.store.Get(ctx, key)
	if s.metrics != nil {
		s.metrics.RecordGet(time.Since(start).Seconds(), err == nil)
	}
	return result, err
}

// Put stores a value.
func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	start := time.Now()
	v, err := s.store.Put(ctx, key, value, opts...)
	if s.metrics != nil {
		s.metrics.RecordPut(time.Since(start).Seconds(), err == nil)
	}
	return v, err
}

// Delete removes a key.
func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	if s.metrics != nil {
		s.metrics.RecordDelete(time.Since(start).Seconds(), err == nil)
	}
	return err
}

// List returns live records under prefix.
func (s *InstrumentedStore) List(ctx context.Context, prefix string, limit int) ([]KV, error) {
	start := time.Now()
	result, err := s.store.List(ctx, prefix, limit)
	if s.metrics != nil {
		s.metrics.RecordList(time.Since(start).Seconds(), err == nil)
	}
	return result, err
}

// ListExpired forwards to the wrapped store when it tracks expired records.
// Stores that expire natively have nothing to report.
func (s *InstrumentedStore) ListExpired(ctx context.Context, prefix string, limit int) ([]string, error) {
	lister, ok := s.store.(ExpiredLister)
	if !ok {
		return nil, nil
	}
	start := time.Now()
	keys, err := lister.ListExpired(ctx, prefix, limit)
	if s.metrics != nil {
		s.metrics.RecordList(time.Since(start).Seconds(), err == nil)
	}
	return keys, err
}

// Close releases resources held by the store.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

var (
	_ MetadataStore = (*InstrumentedStore)(nil)
	_ ExpiredLister = (*InstrumentedStore)(nil)
)
