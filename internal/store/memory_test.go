package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwarklabs/bulwark/pkg/errors"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	s := NewMemoryStore(1024)
	ctx := context.Background()

	err := s.Set(ctx, "key", []byte("value"))
	require.NoError(t, err)

	val, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), val)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore(1024)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryStore_Remove(t *testing.T) {
	s := NewMemoryStore(1024)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("value")))
	require.NoError(t, s.Remove(ctx, "key"))

	_, err := s.Get(ctx, "key")
	assert.True(t, errors.IsNotFound(err))

	// Removing an absent key is not an error
	assert.NoError(t, s.Remove(ctx, "key"))
}

func TestMemoryStore_Usage(t *testing.T) {
	s := NewMemoryStore(100)
	ctx := context.Background()

	usage, err := s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.UsedBytes)
	assert.Equal(t, int64(100), usage.LimitBytes)
	assert.Equal(t, float64(0), usage.Ratio())

	require.NoError(t, s.Set(ctx, "a", make([]byte, 50)))

	usage, err = s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), usage.UsedBytes)
	assert.InDelta(t, 0.5, usage.Ratio(), 0.001)

	// Overwriting replaces the old size rather than accumulating
	require.NoError(t, s.Set(ctx, "a", make([]byte, 30)))

	usage, err = s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), usage.UsedBytes)
}

func TestMemoryStore_LimitExceeded(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	err := s.Set(ctx, "big", make([]byte, 11))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStore))

	// The failed write must not count toward usage
	usage, err := s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.UsedBytes)
}

func TestMemoryStore_ListKeys(t *testing.T) {
	s := NewMemoryStore(1024)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1")))
	require.NoError(t, s.Set(ctx, "b", []byte("2")))

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore(1024)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("value")))

	val, err := s.Get(ctx, "key")
	require.NoError(t, err)
	val[0] = 'X'

	again, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestMemoryStore_Close(t *testing.T) {
	s := NewMemoryStore(1024)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("value")))
	require.NoError(t, s.Close())

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
