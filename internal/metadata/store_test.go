package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTTL(t *testing.T) {
	tests := []struct {
		name string
		opts []PutOption
		want time.Duration
	}{
		{"no options", nil, 0},
		{"one hour", []PutOption{WithTTL(time.Hour)}, time.Hour},
		{"negative clamps to zero", []PutOption{WithTTL(-time.Second)}, 0},
		{"last wins", []PutOption{WithTTL(time.Second), WithTTL(time.Minute)}, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTTL(tt.opts))
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	expires := time.UnixMilli(1_700_000_123_456)
	raw := EncodeEnvelope([]byte("payload"), expires)

	value, got, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), value)
	assert.True(t, got.Equal(expires))

	value, got, err = DecodeEnvelope(EncodeEnvelope(nil, time.Time{}))
	require.NoError(t, err)
	assert.Empty(t, value)
	assert.True(t, got.IsZero())
}

func TestDecodeEnvelope_Corrupt(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("short"), append([]byte{0x00, 1}, make([]byte, 8)...)} {
		_, _, err := DecodeEnvelope(raw)
		assert.ErrorIs(t, err, ErrCorruptEnvelope)
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Unix(100, 0)
	assert.False(t, IsExpired(time.Time{}, now))
	assert.False(t, IsExpired(now.Add(time.Second), now))
	assert.True(t, IsExpired(now, now))
	assert.True(t, IsExpired(now.Add(-time.Second), now))
	assert.True(t, ExpiresAt(now, 0).IsZero())
	assert.Equal(t, now.Add(time.Hour), ExpiresAt(now, time.Hour))
}

func TestMockStore_GetPutDelete(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	res, err := store.Get(ctx, "/a")
	require.NoError(t, err)
	assert.False(t, res.Exists)

	v1, err := store.Put(ctx, "/a", []byte("one"))
	require.NoError(t, err)
	v2, err := store.Put(ctx, "/a", []byte("two"))
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	res, err = store.Get(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, "two", string(res.Value))
	assert.Equal(t, v2, res.Version)

	require.NoError(t, store.Delete(ctx, "/a"))
	require.NoError(t, store.Delete(ctx, "/a"))
	res, err = store.Get(ctx, "/a")
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestMockStore_TTLHidesExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := NewMockStore()
	store.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := store.Put(ctx, "/c/short", []byte("s"), WithTTL(time.Minute))
	require.NoError(t, err)
	_, err = store.Put(ctx, "/c/long", []byte("l"), WithTTL(time.Hour))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	res, err := store.Get(ctx, "/c/short")
	require.NoError(t, err)
	assert.False(t, res.Exists)

	kvs, err := store.List(ctx, "/c/", 0)
	require.NoError(t, err)
	require.Len(t, kvs, 1)
	assert.Equal(t, "/c/long", kvs[0].Key)

	expired, err := store.ListExpired(ctx, "/c/", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"/c/short"}, expired)
	assert.Equal(t, 2, store.Len())
}

func TestMockStore_ListDirectChildrenSortedAndLimited(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	for _, k := range []string{"/j/c", "/j/a", "/j/b", "/j/a/nested", "/other/x"} {
		_, err := store.Put(ctx, k, []byte(k))
		require.NoError(t, err)
	}

	kvs, err := store.List(ctx, "/j/", 0)
	require.NoError(t, err)
	keys := make([]string, len(kvs))
	for i, kv := range kvs {
		keys[i] = kv.Key
	}
	assert.Equal(t, []string{"/j/a", "/j/b", "/j/c"}, keys)

	kvs, err = store.List(ctx, "/j/", 2)
	require.NoError(t, err)
	assert.Len(t, kvs, 2)
}

func TestMockStore_InjectedErrors(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	boom := errors.New("boom")

	store.SetPutError(boom)
	_, err := store.Put(ctx, "/k", []byte("v"))
	assert.ErrorIs(t, err, boom)

	store.SetPutError(nil)
	_, err = store.Put(ctx, "/k", []byte("v"))
	require.NoError(t, err)

	store.SetListError(boom)
	_, err = store.List(ctx, "/", 0)
	assert.ErrorIs(t, err, boom)
}

func TestMockStore_Closed(t *testing.T) {
	store := NewMockStore()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	ctx := context.Background()

	_, err := store.Get(ctx, "/k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Put(ctx, "/k", nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Delete(ctx, "/k"), ErrStoreClosed)
	_, err = store.List(ctx, "/", 0)
	assert.ErrorIs(t, err, ErrStoreClosed)
}
