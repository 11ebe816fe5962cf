package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/ferretbind/internal/metrics"
)

// Cache deduplicates concurrent identical computations and stores their
// results. Store failures degrade to recomputing.
type Cache struct {
	store   Store
	group   singleflight.Group
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New wraps store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key hashes parts into a fixed-length key. Parts must be msgpack
// encodable; equal parts give equal keys.
func Key(parts ...any) string {
	data, err := msgpack.Marshal(parts)
	if err != nil {
		// Unencodable parts never share a key with anything.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close closes the store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) lookup(ctx context.Context, key string, out any) bool {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("cache_get_failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	if !ok {
		return false
	}
	if err := msgpack.Unmarshal(data, out); err != nil {
		slog.Warn("cache_decode_failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

func (c *Cache) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.metrics.CacheResult(hit)
}

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. Errors are never cached. An empty key bypasses the cache.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, compute func() (T, error)) (T, bool, error) {
	if c == nil || key == "" {
		v, err := compute()
		return v, false, err
	}

	var cached T
	if c.lookup(ctx, key, &cached) {
		c.record(true)
		return cached, true, nil
	}
	c.record(false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		var again T
		if c.lookup(ctx, key, &again) {
			return again, nil
		}
		result, err := compute()
		if err != nil {
			return result, err
		}
		if data, err := msgpack.Marshal(result); err == nil {
			if err := c.store.Set(ctx, key, data); err != nil {
				slog.Warn("cache_set_failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		}
		return result, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v.(T), false, nil
}
