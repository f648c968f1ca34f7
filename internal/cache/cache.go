// Package cache provides the TTL- and priority-aware layer on top of the
// persistent store. Cache failures are never fatal: every store error is
// swallowed, logged, and reported as a miss or a false return.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bulwarklabs/bulwark/internal/store"
	"github.com/bulwarklabs/bulwark/pkg/errors"
	"github.com/bulwarklabs/bulwark/pkg/logging"
	"github.com/bulwarklabs/bulwark/pkg/metrics"
)

// Config holds cache configuration
type Config struct {
	DefaultTTL          time.Duration `json:"default_ttl"`
	EnableCompression   bool          `json:"enable_compression"`
	CompressionMinBytes int           `json:"compression_min_bytes"`
	PressureRatio       float64       `json:"pressure_ratio"`
	EvictFraction       float64       `json:"evict_fraction"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:          5 * time.Minute,
		EnableCompression:   true,
		CompressionMinBytes: 1024,
		PressureRatio:       0.8,
		EvictFraction:       0.3,
	}
}

// Stats is a snapshot of cache observation counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Removes   int64   `json:"removes"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is the TTL- and priority-aware layer built on a Store.
type Cache struct {
	store   store.Store
	config  *Config
	logger  *logging.Logger
	metrics *metrics.Metrics

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	removes   atomic.Int64
	evictions atomic.Int64

	// pending tracks deferred access-stat updates so tests can flush them.
	pending sync.WaitGroup
}

// Option configures a single Set call.
type Option func(*Entry)

// WithPriority sets the entry's eviction priority.
func WithPriority(p Priority) Option {
	return func(e *Entry) {
		e.Priority = p
	}
}

// New creates a cache over the given store. metrics may be nil.
func New(s store.Store, config *Config, logger *logging.Logger, m *metrics.Metrics) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Cache{
		store:   s,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// Set stores value under key with the given TTL. It returns false, never an
// error, when serialization or the underlying store fails. Before writing it
// checks store utilization and evicts by priority above the pressure ratio.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, opts ...Option) bool {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Failed to serialize cache value", "key", key, "error", err.Error())
		return false
	}

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	entry := &Entry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Now(),
		TTL:       ttl,
		Priority:  PriorityNormal,
	}
	for _, opt := range opts {
		opt(entry)
	}

	if c.config.EnableCompression && len(payload) >= c.config.CompressionMinBytes {
		if compressed, err := compress(payload); err == nil && len(compressed) < len(payload) {
			entry.Payload = compressed
			entry.Compressed = true
		}
	}

	if usage, err := c.store.Usage(ctx); err == nil {
		if usage.Ratio() >= c.config.PressureRatio {
			c.EvictByPriority(ctx)
		}
	}

	if !c.write(ctx, entry) {
		// The write may have raced fresh inserts past the limit; evict once
		// more and retry before giving up.
		c.EvictByPriority(ctx)
		if !c.write(ctx, entry) {
			return false
		}
	}

	c.sets.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheSet()
	}
	return true
}

func (c *Cache) write(ctx context.Context, entry *Entry) bool {
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("Failed to serialize cache entry", "key", entry.Key, "error", err.Error())
		return false
	}

	if err := c.store.Set(ctx, entry.Key, data); err != nil {
		c.logger.Warn("Cache write failed", "key", entry.Key, "error", err.Error())
		if c.metrics != nil {
			c.metrics.RecordStoreError("set")
		}
		return false
	}
	return true
}

// Get retrieves key into dest and reports whether it was a hit. Absent,
// expired, or unreadable entries are misses; expired and corrupt entries are
// removed as a side effect. A hit schedules a deferred, best-effort update
// of the entry's access fields with no ordering guarantee.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	entry, ok := c.load(ctx, key)
	if !ok {
		c.recordMiss()
		return false
	}

	payload := entry.Payload
	if entry.Compressed {
		decompressed, err := decompress(payload)
		if err != nil {
			c.logger.Warn("Failed to decompress cache entry", "key", key, "error", err.Error())
			c.removeQuietly(ctx, key)
			c.recordMiss()
			return false
		}
		payload = decompressed
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		c.logger.Warn("Failed to deserialize cache value", "key", key, "error", err.Error())
		c.removeQuietly(ctx, key)
		c.recordMiss()
		return false
	}

	c.recordHit()
	c.recordAccess(key)
	return true
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheHit()
		c.metrics.UpdateCacheHitRatio(c.hitRatio())
	}
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
		c.metrics.UpdateCacheHitRatio(c.hitRatio())
	}
}

func (c *Cache) hitRatio() float64 {
	hits := c.hits.Load()
	if total := hits + c.misses.Load(); total > 0 {
		return float64(hits) / float64(total)
	}
	return 0
}

// load reads and validates the stored entry for key. Expired and corrupt
// entries are purged lazily here.
func (c *Cache) load(ctx context.Context, key string) (*Entry, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.IsNotFound(err) {
			c.logger.Warn("Cache read failed", "key", key, "error", err.Error())
			if c.metrics != nil {
				c.metrics.RecordStoreError("get")
			}
			c.removeQuietly(ctx, key)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("Corrupt cache entry", "key", key, "error", err.Error())
		c.removeQuietly(ctx, key)
		return nil, false
	}

	if entry.Expired(time.Now()) {
		c.removeQuietly(ctx, key)
		return nil, false
	}

	return &entry, true
}

// recordAccess bumps the entry's access fields in the background. Updates
// are best-effort and unordered relative to concurrent reads of the same
// key; stats stay approximate and are never authoritative for correctness.
// The entry is re-read inside the goroutine so a write-back never
// resurrects a key that Remove or Clear deleted in the meantime.
func (c *Cache) recordAccess(key string) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		entry, ok := c.load(ctx, key)
		if !ok {
			return
		}

		entry.AccessCount++
		entry.LastAccessedAt = time.Now()
		c.write(ctx, entry)
	}()
}

// Flush waits for deferred access updates to settle. Tests use it to make
// the relaxed bookkeeping deterministic.
func (c *Cache) Flush() {
	c.pending.Wait()
}

// Remove deletes key. Removing an absent key succeeds. Pending access
// write-backs settle first so the deletion is never undone by one.
func (c *Cache) Remove(ctx context.Context, key string) bool {
	c.pending.Wait()

	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn("Cache remove failed", "key", key, "error", err.Error())
		if c.metrics != nil {
			c.metrics.RecordStoreError("remove")
		}
		return false
	}

	c.removes.Add(1)
	return true
}

func (c *Cache) removeQuietly(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Debug("Best-effort cache removal failed", "key", key, "error", err.Error())
	}
}

// Clear removes every entry. It is idempotent: clearing an empty cache
// succeeds. Pending access write-backs settle first so the cleared state
// sticks.
func (c *Cache) Clear(ctx context.Context) bool {
	c.pending.Wait()

	keys, err := c.store.ListKeys(ctx)
	if err != nil {
		c.logger.Warn("Cache clear failed to list keys", "error", err.Error())
		if c.metrics != nil {
			c.metrics.RecordStoreError("list")
		}
		return false
	}

	ok := true
	for _, key := range keys {
		if err := c.store.Remove(ctx, key); err != nil {
			c.logger.Warn("Cache clear failed to remove key", "key", key, "error", err.Error())
			ok = false
		}
	}

	if ok {
		c.logger.Info("Cache cleared", "keys", len(keys))
	}
	return ok
}

// EvictByPriority removes the lowest fraction of entries ordered by
// (priority weight asc, access count asc) and returns how many were evicted.
// Ties break toward lower priority first, then fewer accesses.
func (c *Cache) EvictByPriority(ctx context.Context) int {
	keys, err := c.store.ListKeys(ctx)
	if err != nil {
		c.logger.Warn("Eviction failed to list keys", "error", err.Error())
		return 0
	}

	entries := make([]*Entry, 0, len(keys))
	now := time.Now()
	for _, key := range keys {
		data, err := c.store.Get(ctx, key)
		if err != nil {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			c.removeQuietly(ctx, key)
			continue
		}

		if entry.Expired(now) {
			c.removeQuietly(ctx, key)
			continue
		}

		entries = append(entries, &entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		wi, wj := entries[i].Priority.Weight(), entries[j].Priority.Weight()
		if wi != wj {
			return wi < wj
		}
		return entries[i].AccessCount < entries[j].AccessCount
	})

	count := int(float64(len(entries)) * c.config.EvictFraction)
	evicted := 0
	for i := 0; i < count; i++ {
		if err := c.store.Remove(ctx, entries[i].Key); err != nil {
			c.logger.Warn("Eviction failed to remove key", "key", entries[i].Key, "error", err.Error())
			continue
		}
		evicted++
	}

	if evicted > 0 {
		c.evictions.Add(int64(evicted))
		if c.metrics != nil {
			c.metrics.RecordCacheEvictions(evicted)
		}
		c.logger.Info("Evicted cache entries under storage pressure",
			"evicted", evicted,
			"total", len(entries),
		)
	}

	return evicted
}

// GetStats returns a snapshot of the observation counters.
func (c *Cache) GetStats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	stats := Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      c.sets.Load(),
		Removes:   c.removes.Load(),
		Evictions: c.evictions.Load(),
	}

	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	return stats
}
