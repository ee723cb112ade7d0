// Package lock implements named mutual-exclusion leases on top of the shared
// key-value store.
//
// A lock is held iff its backing entry exists and holds the token handed to the
// holder. Entries carry a TTL so a crashed holder cannot block others forever.
// There is no renewal: a critical section that outlives the TTL loses its
// protection.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/kvstore"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/metrics"
)

// KeyPrefix namespaces lock entries in the shared store.
const KeyPrefix = "lock:"

const (
	DefaultTTL         = 10 * time.Second
	DefaultRetryDelay  = 200 * time.Millisecond
	DefaultMaxAttempts = 3
)

// Status tells whether Acquire obtained the lock.
type Status int

const (
	// StatusContended means every attempt found the lock held by someone else.
	StatusContended Status = iota
	// StatusAcquired means the caller now holds the lock.
	StatusAcquired
)

func (s Status) String() string {
	if s == StatusAcquired {
		return "acquired"
	}
	return "contended"
}

// Result is the outcome of Acquire. Token is set only when Status is
// StatusAcquired and must be passed back to Release.
type Result struct {
	Status Status
	Key    string
	Token  string
}

// Acquired reports whether the lock was obtained.
func (r Result) Acquired() bool {
	return r.Status == StatusAcquired
}

// Options control a single Acquire call.
type Options struct {
	TTL         time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
}

// Option overrides one of the manager defaults.
type Option func(*Options)

func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = ttl }
}

func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// errContended signals a failed conditional set to the retry loop.
var errContended = errors.New("lock held by another owner")

// Manager acquires and releases locks. It keeps no local state, so any number
// of managers in any number of processes can share one store.
type Manager struct {
	store    kvstore.Store
	defaults Options
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
}

// NewManager creates a Manager. opts replace the package defaults for every
// Acquire made through it.
func NewManager(store kvstore.Store, logger logrus.FieldLogger, m *metrics.Metrics, opts ...Option) *Manager {
	defaults := Options{
		TTL:         DefaultTTL,
		RetryDelay:  DefaultRetryDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&defaults)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store:    store,
		defaults: defaults,
		logger:   logger,
		metrics:  m,
	}
}

func (m *Manager) options(opts []Option) Options {
	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	return o
}

// Acquire tries to take the lock named key, retrying with a fixed delay up to
// MaxAttempts times in total. Losing to another holder is not an error: the
// result then has StatusContended. Store failures and context cancellation are
// returned as errors.
func (m *Manager) Acquire(ctx context.Context, key string, opts ...Option) (Result, error) {
	o := m.options(opts)
	backingKey := KeyPrefix + key
	token := uuid.NewString()
	start := time.Now()

	attempts := 0
	operation := func() error {
		attempts++
		ok, err := m.store.SetNX(ctx, backingKey, []byte(token), o.TTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errContended
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.RetryDelay), uint64(o.MaxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(operation, policy)
	waited := time.Since(start)

	fields := logrus.Fields{
		"lock":     key,
		"attempts": attempts,
		"wait_ms":  waited.Milliseconds(),
	}

	switch {
	case err == nil:
		m.metrics.LockAcquired("acquired", waited.Seconds())
		m.logger.WithFields(fields).Debug("lock acquired")
		return Result{Status: StatusAcquired, Key: key, Token: token}, nil

	case errors.Is(err, errContended):
		m.metrics.LockAcquired("contended", waited.Seconds())
		m.logger.WithFields(fields).Info("lock contended, giving up")
		return Result{Status: StatusContended, Key: key}, nil

	default:
		m.metrics.LockAcquired("error", waited.Seconds())
		m.logger.WithFields(fields).WithError(err).Error("lock acquire failed")
		return Result{Status: StatusContended, Key: key}, fmt.Errorf("lock: acquire %q: %w", key, err)
	}
}

// Release deletes the lock only if it still holds token. It reports whether the
// entry was removed; a mismatched or expired token yields false and no error.
func (m *Manager) Release(ctx context.Context, key, token string) (bool, error) {
	released, err := m.store.CompareAndDelete(ctx, KeyPrefix+key, []byte(token))
	if err != nil {
		m.metrics.LockReleased("error")
		return false, fmt.Errorf("lock: release %q: %w", key, err)
	}
	if released {
		m.metrics.LockReleased("released")
	} else {
		m.metrics.LockReleased("not_owner")
	}
	return released, nil
}

// IsLocked reports whether somebody currently holds key. The answer is
// advisory and may be stale by the time the caller acts on it.
func (m *Manager) IsLocked(ctx context.Context, key string) (bool, error) {
	held, err := m.store.Exists(ctx, KeyPrefix+key)
	if err != nil {
		return false, fmt.Errorf("lock: inspect %q: %w", key, err)
	}
	return held, nil
}
