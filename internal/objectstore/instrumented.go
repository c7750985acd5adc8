package objectstore

import (
	"context"
	"io"
	"time"
)

// Operation names reported to a MetricsRecorder.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpHead   = "head"
	OpDelete = "delete"
	OpList   = "list"
)

// MetricsRecorder receives one call per store operation. region is the
// namespace of the key (see RegionOf); bytes is the body size moved by a
// put or get and zero otherwise.
type MetricsRecorder interface {
	RecordObjectOp(operation, region string, durationSeconds float64, success bool, bytes int64)
}

// InstrumentedStore reports every operation with the region it touched, so
// replication traffic and cache warm-ups can be told apart per region.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore wraps store. A nil recorder disables reporting.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) record(op, key string, start time.Time, err error, bytes int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordObjectOp(op, RegionOf(key), time.Since(start).Seconds(), err == nil, bytes)
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := s.store.Put(ctx, key, reader, size, contentType)
	s.record(OpPut, key, start, err, size)
	return err
}

func (s *InstrumentedStore) PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error {
	start := time.Now()
	err := s.store.PutWithOptions(ctx, key, reader, size, contentType, opts)
	s.record(OpPut, key, start, err, size)
	return err
}

// Get reports on Close, once the body has been read, so the duration and
// byte count cover the whole transfer.
func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		s.record(OpGet, key, start, err, 0)
		return nil, err
	}
	if s.metrics == nil {
		return rc, nil
	}
	return &countingBody{ReadCloser: rc, store: s, key: key, start: start}, nil
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	start := time.Now()
	meta, err := s.store.Head(ctx, key)
	s.record(OpHead, key, start, err, 0)
	return meta, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	s.record(OpDelete, key, start, err, 0)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	start := time.Now()
	result, err := s.store.List(ctx, prefix)
	s.record(OpList, prefix, start, err, 0)
	return result, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

type countingBody struct {
	io.ReadCloser
	store   *InstrumentedStore
	key     string
	start   time.Time
	n       int64
	readErr error
	closed  bool
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	if err != nil && err != io.EOF {
		b.readErr = err
	}
	return n, err
}

func (b *countingBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.ReadCloser.Close()
	outcome := err
	if outcome == nil {
		outcome = b.readErr
	}
	b.store.record(OpGet, b.key, b.start, outcome, b.n)
	return err
}

var _ Store = (*InstrumentedStore)(nil)
