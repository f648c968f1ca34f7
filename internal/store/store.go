// Package store provides the durable key-value layer the cache is built on.
package store

import "context"

// Usage reports how much of the store's capacity is in use.
type Usage struct {
	UsedBytes  int64 `json:"used_bytes"`
	LimitBytes int64 `json:"limit_bytes"`
}

// Ratio returns used/limit, or 0 when no limit is configured.
func (u Usage) Ratio() float64 {
	if u.LimitBytes <= 0 {
		return 0
	}
	return float64(u.UsedBytes) / float64(u.LimitBytes)
}

// Store is the persistent key-value collaborator consumed by the cache.
// Absent keys are signaled with a not_found error; any other failure is a
// store error the caller must treat as non-fatal.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]string, error)
	Usage(ctx context.Context) (Usage, error)
	Health(ctx context.Context) error
	Close() error
}
