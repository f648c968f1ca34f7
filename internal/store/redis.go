package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bulwarklabs/bulwark/pkg/config"
	"github.com/bulwarklabs/bulwark/pkg/errors"
)

// RedisStore implements Store on a Redis database. Keys are namespaced under
// a configurable prefix so several instances can share one database.
type RedisStore struct {
	client *redis.Client
	prefix string
	limit  int64
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
func NewRedisStore(cfg *config.Config) (*RedisStore, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("store configuration is required")
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Store.RedisPass,
		DB:       cfg.Store.RedisDB,
		PoolSize: cfg.Store.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewStoreError("failed to connect to Redis").WithCause(err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.Store.Prefix,
		limit:  int64(cfg.Store.LimitMB) * 1024 * 1024,
	}, nil
}

func (r *RedisStore) qualify(key string) string {
	return r.prefix + ":" + key
}

func (r *RedisStore) unqualify(key string) string {
	return strings.TrimPrefix(key, r.prefix+":")
}

// Get retrieves the value for key
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.qualify(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NewNotFoundError("key")
		}
		return nil, errors.NewStoreError("failed to get key").WithCause(err)
	}
	return val, nil
}

// Set writes the value for key with no expiration; TTL bookkeeping belongs
// to the cache layer above.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.qualify(key), value, 0).Err(); err != nil {
		return errors.NewStoreError("failed to set key").WithCause(err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.qualify(key)).Err(); err != nil {
		return errors.NewStoreError("failed to delete key").WithCause(err)
	}
	return nil
}

// ListKeys returns all keys under this store's prefix.
func (r *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.unqualify(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.NewStoreError("failed to scan keys").WithCause(err)
	}
	return keys, nil
}

// Usage sums the stored payload sizes with a pipelined STRLEN pass. The
// store holds client-scale cache data, so the linear walk stays cheap.
func (r *RedisStore) Usage(ctx context.Context) (Usage, error) {
	keys, err := r.ListKeys(ctx)
	if err != nil {
		return Usage{}, err
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.StrLen(ctx, r.qualify(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Usage{}, errors.NewStoreError("failed to measure usage").WithCause(err)
	}

	var used int64
	for _, cmd := range cmds {
		used += cmd.Val()
	}

	return Usage{UsedBytes: used, LimitBytes: r.limit}, nil
}

// Health checks the Redis connection health
func (r *RedisStore) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewStoreError("Redis health check failed").WithCause(err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
