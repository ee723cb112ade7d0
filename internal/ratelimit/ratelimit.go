// Package ratelimit implements a fixed-window request limiter on the shared
// key-value store.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/kvstore"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/metrics"
)

// KeyPrefix namespaces limiter counters in the shared store.
const KeyPrefix = "ratelimit:"

// Decision is the outcome of Allow.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// Limiter counts requests per client in fixed windows aligned to multiples
// of Window. A client may make Limit requests per window.
type Limiter struct {
	store   kvstore.Store
	limit   int
	window  time.Duration
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Limiter. limit <= 0 disables limiting.
func New(store kvstore.Store, limit int, window time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *Limiter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		store:   store,
		limit:   limit,
		window:  window,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Allow counts one request for client. Store failures let the request
// through: an unreachable limiter must not take the API down.
func (l *Limiter) Allow(ctx context.Context, client string) Decision {
	if l.limit <= 0 {
		return Decision{Allowed: true}
	}

	key := l.key(client)
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		l.logger.WithField("client", client).WithError(err).Warn("rate limiter unavailable, allowing request")
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}

	if count == 1 {
		if _, err := l.store.Expire(ctx, key, l.window); err != nil {
			l.logger.WithField("client", client).WithError(err).Warn("failed to set rate limit window")
		}
	}

	d := Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: max(l.limit-int(count), 0),
		ResetIn:   l.resetIn(),
	}
	if !d.Allowed {
		l.metrics.RateLimited()
	}
	return d
}

// key buckets client requests by window start, so a counter whose EXPIRE was
// lost still stops growing once the window passes.
func (l *Limiter) key(client string) string {
	windowStart := l.now().Truncate(l.window).Unix()
	return fmt.Sprintf("%s%s:%s", KeyPrefix, client, strconv.FormatInt(windowStart, 10))
}

func (l *Limiter) resetIn() time.Duration {
	now := l.now()
	return now.Truncate(l.window).Add(l.window).Sub(now)
}
