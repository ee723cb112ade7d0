package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Store. It honours the same conditional-set and
// check-and-delete contract as Redis, but only within one process.
type Memory struct {
	// mu serialises the read-modify-write operations; plain reads go straight
	// to the cache.
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemory creates an empty store that purges expired entries every minute.
func NewMemory() *Memory {
	return &Memory{
		items: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (m *Memory) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Add fails when an unexpired item exists
	if err := m.items.Add(key, clone(value), expiration(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items.Get(key)
	if !ok || !bytes.Equal(current.([]byte), value) {
		return false, nil
	}
	m.items.Delete(key)
	return true, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := m.items.Get(key)
	return ok, nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := m.items.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value.([]byte)), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items.Set(key, clone(value), expiration(ttl))
	return nil
}

// Incr keeps the counter as a decimal string, like Redis, and preserves any
// TTL already set on the key.
func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, expiresAt, ok := m.items.GetWithExpiration(key)
	if !ok {
		m.items.Set(key, []byte("1"), gocache.NoExpiration)
		return 1, nil
	}

	n, err := strconv.ParseInt(string(current.([]byte)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory INCR %s: value is not an integer", key)
	}
	n++

	ttl := gocache.NoExpiration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			ttl = time.Nanosecond
		}
	}
	m.items.Set(key, []byte(strconv.FormatInt(n, 10)), ttl)
	return n, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items.Get(key)
	if !ok {
		return false, nil
	}
	m.items.Set(key, current, expiration(ttl))
	return true, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	m.items.Flush()
	return nil
}
