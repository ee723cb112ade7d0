// Package cache is a read-through helper over the shared key-value store.
//
// Cache availability never decides functional correctness: read and write
// failures are logged and treated as misses. Errors from the producer passed
// to Cached are always returned to the caller.
//
// Concurrent misses on the same key each call the producer; there is no
// in-flight de-duplication.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/kvstore"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/metrics"
)

// Cache stores JSON-encoded values in a kvstore.Store.
type Cache struct {
	store   kvstore.Store
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// New creates a Cache over store.
func New(store kvstore.Store, logger logrus.FieldLogger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cache{store: store, logger: logger, metrics: m}
}

// Set stores value under key for ttl (ttl <= 0: no expiry). Failures are
// logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.WithField("key", key).WithError(err).Warn("cache: failed to encode value")
		return
	}
	if err := c.store.Set(ctx, key, payload, ttl); err != nil {
		c.logger.WithField("key", key).WithError(err).Warn("cache: failed to store value")
	}
}

// Get returns the value cached under key. The boolean is false on a miss,
// including when the store is unreachable or the entry cannot be decoded.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var value T

	payload, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			c.metrics.CacheRequest("miss")
		} else {
			c.metrics.CacheRequest("error")
			c.logger.WithField("key", key).WithError(err).Warn("cache: read failed, treating as miss")
		}
		return value, false
	}

	if err := json.Unmarshal(payload, &value); err != nil {
		c.metrics.CacheRequest("error")
		c.logger.WithField("key", key).WithError(err).Warn("cache: undecodable entry, treating as miss")
		var zero T
		return zero, false
	}

	c.metrics.CacheRequest("hit")
	return value, true
}

// Producer computes a value on a cache miss. ok=false means "no value" and
// nothing is cached.
type Producer[T any] func(ctx context.Context) (value T, ok bool, err error)

// Cached returns the value under key, calling produce and storing its result
// for ttl on a miss.
func Cached[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, produce Producer[T]) (T, bool, error) {
	if value, ok := Get[T](ctx, c, key); ok {
		return value, true, nil
	}

	value, ok, err := produce(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	if !ok {
		var zero T
		return zero, false, nil
	}

	c.Set(ctx, key, value, ttl)
	return value, true, nil
}
