package store

import (
	"context"
	"sync"

	"github.com/bulwarklabs/bulwark/pkg/errors"
)

// MemoryStore implements Store in process memory with a byte limit. It is
// the default backend on constrained clients and the fixture for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	used  int64
	limit int64
}

// NewMemoryStore creates an in-memory store bounded at limitBytes.
func NewMemoryStore(limitBytes int64) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		limit: limitBytes,
	}
}

// Get retrieves the value for key
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.data[key]
	if !ok {
		return nil, errors.NewNotFoundError("key")
	}

	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Set writes the value for key. Writes beyond the configured limit fail
// with a store error so the cache layer can evict and retry.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used - int64(len(m.data[key])) + int64(len(value))
	if m.limit > 0 && next > m.limit {
		return errors.NewStoreError("store limit exceeded").
			WithDetail("key", key)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.used = next
	m.data[key] = stored
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if val, ok := m.data[key]; ok {
		m.used -= int64(len(val))
		delete(m.data, key)
	}
	return nil
}

// ListKeys returns all stored keys.
func (m *MemoryStore) ListKeys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	return keys, nil
}

// Usage reports current byte usage against the configured limit.
func (m *MemoryStore) Usage(ctx context.Context) (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Usage{UsedBytes: m.used, LimitBytes: m.limit}, nil
}

// Health always succeeds for the in-process store.
func (m *MemoryStore) Health(ctx context.Context) error {
	return nil
}

// Close releases the stored data.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string][]byte)
	m.used = 0
	return nil
}
