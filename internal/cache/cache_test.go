package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/kvstore"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/logging"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/metrics"
)

type rates struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// brokenStore fails every operation, as an unreachable Redis would.
type brokenStore struct {
	kvstore.Store
}

var errDown = errors.New("redis: connection refused")

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}

// counter returns a producer that records how often it ran.
func counter(calls *int, value rates) Producer[rates] {
	return func(context.Context) (rates, bool, error) {
		*calls++
		return value, true, nil
	}
}

func TestGetSet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(kvstore.NewMemory(), logging.Discard(), nil)

	_, ok := Get[rates](ctx, c, "missing")
	assert.False(t, ok, "absent entry is a miss")

	c.Set(ctx, "rates", rates{Base: "USD", Rates: map[string]float64{"EUR": 0.9}}, time.Minute)

	got, ok := Get[rates](ctx, c, "rates")
	require.True(t, ok)
	assert.Equal(t, "USD", got.Base)
	assert.Equal(t, 0.9, got.Rates["EUR"])
}

func TestCached_ProducesOnceUntilExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store := kvstore.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()
	c := New(store, logging.Discard(), nil)

	calls := 0
	produce := counter(&calls, rates{Base: "USD", Rates: map[string]float64{"USD": 1}})

	first, ok, err := Cached(ctx, c, "exchange_rates", time.Hour, produce)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "USD", first.Base)

	second, ok, err := Cached(ctx, c, "exchange_rates", time.Hour, produce)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, calls, "hit must not call the producer")
	assert.Equal(t, first, second)

	mr.FastForward(time.Hour + time.Second)

	_, ok, err = Cached(ctx, c, "exchange_rates", time.Hour, produce)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, calls, "expired entry is produced again")
}

func TestCached_NoValueIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	c := New(store, logging.Discard(), nil)

	calls := 0
	empty := func(context.Context) (rates, bool, error) {
		calls++
		return rates{}, false, nil
	}

	_, ok, err := Cached(ctx, c, "empty", time.Minute, empty)
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := store.Exists(ctx, "empty")
	require.NoError(t, err)
	assert.False(t, exists)

	_, _, _ = Cached(ctx, c, "empty", time.Minute, empty)
	assert.Equal(t, 2, calls)
}

func TestCached_ProducerErrorPropagates(t *testing.T) {
	ctx := context.Background()
	c := New(kvstore.NewMemory(), logging.Discard(), nil)
	boom := errors.New("provider down")

	_, ok, err := Cached(ctx, c, "rates", time.Minute, func(context.Context) (rates, bool, error) {
		return rates{}, false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestCached_StoreOutageDegradesToProducer(t *testing.T) {
	ctx := context.Background()
	c := New(brokenStore{}, logging.Discard(), nil)

	calls := 0
	produce := counter(&calls, rates{Base: "USD"})

	for i := 0; i < 2; i++ {
		got, ok, err := Cached(ctx, c, "rates", time.Minute, produce)
		require.NoError(t, err, "cache outage must not fail the caller")
		require.True(t, ok)
		assert.Equal(t, "USD", got.Base)
	}
	assert.Equal(t, 2, calls, "every call falls through to the producer")
}

func TestGet_UndecodableEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	require.NoError(t, store.Set(ctx, "garbage", []byte("{not json"), 0))

	met := metrics.New(prometheus.NewRegistry())
	c := New(store, logging.Discard(), met)

	_, ok := Get[rates](ctx, c, "garbage")
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.CacheRequestsTotal.WithLabelValues("error")))
}
