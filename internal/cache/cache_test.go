package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwarklabs/bulwark/internal/store"
	"github.com/bulwarklabs/bulwark/pkg/errors"
	"github.com/bulwarklabs/bulwark/pkg/metrics"
)

type testValue struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T, config *Config) (*Cache, *store.MemoryStore) {
	t.Helper()

	s := store.NewMemoryStore(0)
	return New(s, config, nil, nil), s
}

func TestCache_SetAndGet(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	want := testValue{Name: "orders", Count: 7}
	require.True(t, c.Set(ctx, "key", want, time.Minute))

	var got testValue
	require.True(t, c.Get(ctx, "key", &got))
	assert.Equal(t, want, got)
}

func TestCache_GetMiss(t *testing.T) {
	c, _ := newTestCache(t, nil)

	var got testValue
	assert.False(t, c.Get(context.Background(), "missing", &got))
}

func TestCache_Expiry(t *testing.T) {
	c, s := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "key", testValue{Name: "short"}, 30*time.Millisecond))

	var got testValue
	require.True(t, c.Get(ctx, "key", &got))
	c.Flush()

	time.Sleep(60 * time.Millisecond)

	assert.False(t, c.Get(ctx, "key", &got))

	// Expired entries are purged lazily on read
	_, err := s.Get(ctx, "key")
	assert.True(t, errors.IsNotFound(err))
}

func TestCache_DefaultTTLApplied(t *testing.T) {
	config := DefaultConfig()
	config.DefaultTTL = time.Hour
	c, s := newTestCache(t, config)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "key", testValue{Name: "default"}, 0))

	data, err := s.Get(ctx, "key")
	require.NoError(t, err)

	var entry Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, time.Hour, entry.TTL)
}

func TestCache_RemoveIdempotent(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "key", testValue{Name: "gone"}, time.Minute))
	assert.True(t, c.Remove(ctx, "key"))
	assert.True(t, c.Remove(ctx, "key"))
}

func TestCache_ClearIdempotent(t *testing.T) {
	c, s := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "a", testValue{Name: "a"}, time.Minute))
	require.True(t, c.Set(ctx, "b", testValue{Name: "b"}, time.Minute))

	assert.True(t, c.Clear(ctx))

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Clearing an empty cache succeeds
	assert.True(t, c.Clear(ctx))
}

func TestCache_Stats(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "key", testValue{Name: "stats"}, time.Minute))

	var got testValue
	c.Get(ctx, "key", &got)
	c.Get(ctx, "key", &got)
	c.Get(ctx, "missing", &got)
	c.Flush()

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestCache_HitRatioGaugeTracksGets(t *testing.T) {
	s := store.NewMemoryStore(0)
	m := metrics.NewMetrics(nil)
	c := New(s, nil, nil, m)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "key", testValue{Name: "ratio"}, time.Minute))

	var got testValue
	require.True(t, c.Get(ctx, "key", &got))
	require.False(t, c.Get(ctx, "missing", &got))
	c.Flush()

	assert.InDelta(t, 0.5, testutil.ToFloat64(m.CacheHitRatio), 0.001)
}

func TestCache_RemoveOutlastsDeferredAccessUpdate(t *testing.T) {
	c, s := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "key", testValue{Name: "doomed"}, time.Minute))

	var got testValue
	require.True(t, c.Get(ctx, "key", &got))
	require.True(t, c.Remove(ctx, "key"))

	c.Flush()

	// The deferred access update must not bring the key back.
	_, err := s.Get(ctx, "key")
	assert.True(t, errors.IsNotFound(err))
	assert.False(t, c.Get(ctx, "key", &got))
}

func TestCache_ClearOutlastsDeferredAccessUpdates(t *testing.T) {
	c, s := newTestCache(t, nil)
	ctx := context.Background()

	var got testValue
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key-%d", i)
		require.True(t, c.Set(ctx, key, testValue{Name: key}, time.Minute))
		require.True(t, c.Get(ctx, key, &got))
	}

	require.True(t, c.Clear(ctx))
	c.Flush()

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCache_AccessCountPersisted(t *testing.T) {
	c, s := newTestCache(t, nil)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "key", testValue{Name: "counted"}, time.Minute))

	var got testValue
	require.True(t, c.Get(ctx, "key", &got))
	c.Flush()

	data, err := s.Get(ctx, "key")
	require.NoError(t, err)

	var entry Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, int64(1), entry.AccessCount)
	assert.False(t, entry.LastAccessedAt.IsZero())
}

func TestCache_EvictByPriority_LowFirst(t *testing.T) {
	c, s := newTestCache(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("low-%d", i)
		require.True(t, c.Set(ctx, key, testValue{Name: key}, time.Minute, WithPriority(PriorityLow)))
	}
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("normal-%d", i)
		require.True(t, c.Set(ctx, key, testValue{Name: key}, time.Minute))
	}
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("high-%d", i)
		require.True(t, c.Set(ctx, key, testValue{Name: key}, time.Minute, WithPriority(PriorityHigh)))
	}

	// 30% of 10 entries: exactly the three low-priority ones go
	evicted := c.EvictByPriority(ctx)
	assert.Equal(t, 3, evicted)

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 7)
	for _, key := range keys {
		assert.False(t, strings.HasPrefix(key, "low-"), "low-priority key %s survived eviction", key)
	}
}

func TestCache_EvictByPriority_AccessCountBreaksTies(t *testing.T) {
	c, s := newTestCache(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key-%d", i)
		require.True(t, c.Set(ctx, key, testValue{Name: key}, time.Minute))
	}

	// Touch all but key-0..key-2 so the untouched ones sort first
	var got testValue
	for i := 3; i < 10; i++ {
		require.True(t, c.Get(ctx, fmt.Sprintf("key-%d", i), &got))
	}
	c.Flush()

	evicted := c.EvictByPriority(ctx)
	assert.Equal(t, 3, evicted)

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"key-3", "key-4", "key-5", "key-6", "key-7", "key-8", "key-9",
	}, keys)
}

func TestCache_EvictionUnderPressure(t *testing.T) {
	s := store.NewMemoryStore(4096)
	config := DefaultConfig()
	config.EnableCompression = false
	config.EvictFraction = 0.5
	c := New(s, config, nil, nil)
	ctx := context.Background()

	padding := strings.Repeat("x", 150)
	for i := 0; ; i++ {
		require.True(t, c.Set(ctx, fmt.Sprintf("fill-%d", i), testValue{Name: padding}, time.Minute))

		usage, err := s.Usage(ctx)
		require.NoError(t, err)
		if usage.Ratio() >= config.PressureRatio {
			break
		}
		require.Less(t, i, 100, "store never reached pressure")
	}

	// The next write crosses the pressure ratio and triggers eviction
	require.True(t, c.Set(ctx, "trigger", testValue{Name: padding}, time.Minute))
	assert.Greater(t, c.GetStats().Evictions, int64(0))

	var got testValue
	assert.True(t, c.Get(ctx, "trigger", &got))
}

func TestCache_CompressionRoundTrip(t *testing.T) {
	config := DefaultConfig()
	config.CompressionMinBytes = 64
	c, s := newTestCache(t, config)
	ctx := context.Background()

	want := testValue{Name: strings.Repeat("compressible payload ", 50)}
	require.True(t, c.Set(ctx, "key", want, time.Minute))

	data, err := s.Get(ctx, "key")
	require.NoError(t, err)

	var entry Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.True(t, entry.Compressed)

	var got testValue
	require.True(t, c.Get(ctx, "key", &got))
	assert.Equal(t, want, got)
}

func TestCache_SmallValuesNotCompressed(t *testing.T) {
	config := DefaultConfig()
	config.CompressionMinBytes = 1024
	c, s := newTestCache(t, config)
	ctx := context.Background()

	require.True(t, c.Set(ctx, "key", testValue{Name: "tiny"}, time.Minute))

	data, err := s.Get(ctx, "key")
	require.NoError(t, err)

	var entry Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.False(t, entry.Compressed)
}

func TestCache_CorruptEntryTreatedAsMiss(t *testing.T) {
	c, s := newTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "corrupt", []byte("not json")))

	var got testValue
	assert.False(t, c.Get(ctx, "corrupt", &got))

	// The corrupt entry is purged
	_, err := s.Get(ctx, "corrupt")
	assert.True(t, errors.IsNotFound(err))
}

// brokenStore fails every operation so tests can verify the cache swallows
// store errors instead of propagating them.
type brokenStore struct{}

func (b *brokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.NewStoreError("store down")
}

func (b *brokenStore) Set(ctx context.Context, key string, value []byte) error {
	return errors.NewStoreError("store down")
}

func (b *brokenStore) Remove(ctx context.Context, key string) error {
	return errors.NewStoreError("store down")
}

func (b *brokenStore) ListKeys(ctx context.Context) ([]string, error) {
	return nil, errors.NewStoreError("store down")
}

func (b *brokenStore) Usage(ctx context.Context) (store.Usage, error) {
	return store.Usage{}, errors.NewStoreError("store down")
}

func (b *brokenStore) Health(ctx context.Context) error {
	return errors.NewStoreError("store down")
}

func (b *brokenStore) Close() error { return nil }

func TestCache_StoreFailuresAreNotFatal(t *testing.T) {
	c := New(&brokenStore{}, nil, nil, nil)
	ctx := context.Background()

	assert.False(t, c.Set(ctx, "key", testValue{Name: "doomed"}, time.Minute))

	var got testValue
	assert.False(t, c.Get(ctx, "key", &got))
	assert.False(t, c.Remove(ctx, "key"))
	assert.False(t, c.Clear(ctx))
	assert.Equal(t, 0, c.EvictByPriority(ctx))

	stats := c.GetStats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
