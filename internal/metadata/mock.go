package metadata

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore implements MetadataStore in memory for tests and for
// single-process deployments (metadata.backend: memory).
// It is exported so that tests in other packages can use it.
//
// Records carry their expiry like the Oxia store's envelope does, so TTL
// behavior can be exercised deterministically through SetClock.
type MockStore struct {
	mu      sync.RWMutex
	data    map[string]mockRecord
	closed  bool
	nextVer Version
	now     func() time.Time

	getErr    error
	putErr    error
	deleteErr error
	listErr   error
	closeErr  error
}

type mockRecord struct {
	kv        KV
	expiresAt time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		data:    make(map[string]mockRecord),
		nextVer: 1,
		now:     time.Now,
	}
}

// SetClock replaces the store's time source.
func (m *MockStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetGetError makes every subsequent Get fail with err (nil to clear).
func (m *MockStore) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// SetPutError makes every subsequent Put fail with err (nil to clear).
func (m *MockStore) SetPutError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// SetDeleteError makes every subsequent Delete fail with err (nil to clear).
func (m *MockStore) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// SetListError makes every subsequent List fail with err (nil to clear).
func (m *MockStore) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return GetResult{}, ErrStoreClosed
	}
	if m.getErr != nil {
		return GetResult{}, m.getErr
	}
	rec, ok := m.data[key]
	if !ok || IsExpired(rec.expiresAt, m.now()) {
		return GetResult{Exists: false}, nil
	}
	return GetResult{Value: rec.kv.Value, Version: rec.kv.Version, Exists: true}, nil
}

func (m *MockStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	if m.putErr != nil {
		return 0, m.putErr
	}

	ver := m.nextVer
	m.nextVer++
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = mockRecord{
		kv:        KV{Key: key, Value: stored, Version: ver},
		expiresAt: ExpiresAt(m.now(), ExtractTTL(opts)),
	}
	return ver, nil
}

func (m *MockStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.data, key)
	return nil
}

func (m *MockStore) List(_ context.Context, prefix string, limit int) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if m.listErr != nil {
		return nil, m.listErr
	}

	now := m.now()
	keys := m.matchingKeys(prefix, func(rec mockRecord) bool {
		return !IsExpired(rec.expiresAt, now)
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k].kv
	}
	return result, nil
}

// ListExpired returns keys under prefix whose TTL has passed.
func (m *MockStore) ListExpired(_ context.Context, prefix string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	now := m.now()
	keys := m.matchingKeys(prefix, func(rec mockRecord) bool {
		return IsExpired(rec.expiresAt, now)
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// matchingKeys mirrors Oxia's hierarchical listing: a prefix ending in '/'
// matches only its direct children. Caller must hold m.mu.
func (m *MockStore) matchingKeys(prefix string, keep func(mockRecord) bool) []string {
	var keys []string
	for k, rec := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if strings.HasSuffix(prefix, "/") && strings.Contains(k[len(prefix):], "/") {
			continue
		}
		if keep(rec) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored records, expired ones included.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.closeErr
}

var (
	_ MetadataStore = (*MockStore)(nil)
	_ ExpiredLister = (*MockStore)(nil)
)
