// Package kvstore abstracts the shared key-value service used for cross-process
// coordination: distributed locks, the exchange-rate cache and request counters.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the set of operations the ledger needs from the shared key-value
// service. Every implementation must make SetNX and CompareAndDelete atomic with
// respect to each other, across every process sharing the store.
type Store interface {
	// SetNX stores value under key only if key is absent. A positive ttl makes
	// the entry expire. Reports whether the value was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals value.
	// Reports whether an entry was deleted.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key unconditionally. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Incr atomically increments the integer stored under key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key. Reports false if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
