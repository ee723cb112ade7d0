package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the ledger's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without instrumentation.
type Metrics struct {
	LockAcquireTotal   *prometheus.CounterVec // result=acquired|contended|error
	LockReleaseTotal   *prometheus.CounterVec // result=released|not_owner|error
	LockWaitSeconds    prometheus.Histogram
	CacheRequestsTotal *prometheus.CounterVec // result=hit|miss|error
	RatesFetchTotal    *prometheus.CounterVec // result=success|error
	TransactionsTotal  *prometheus.CounterVec // type=credit|debit
	RateLimitedTotal   prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LockAcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_lock_acquire_total",
				Help: "Lock acquire calls by result",
			},
			[]string{"result"},
		),
		LockReleaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_lock_release_total",
				Help: "Lock release calls by result",
			},
			[]string{"result"},
		),
		LockWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_lock_wait_seconds",
			Help:    "Time spent in Acquire including retry backoff",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}),
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_requests_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
		RatesFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rates_fetch_total",
				Help: "Exchange-rate provider calls by result",
			},
			[]string{"result"},
		),
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_created_total",
				Help: "Transactions persisted by type",
			},
			[]string{"type"},
		),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}

	reg.MustRegister(
		m.LockAcquireTotal,
		m.LockReleaseTotal,
		m.LockWaitSeconds,
		m.CacheRequestsTotal,
		m.RatesFetchTotal,
		m.TransactionsTotal,
		m.RateLimitedTotal,
	)

	return m
}

func (m *Metrics) LockAcquired(result string, waitSeconds float64) {
	if m == nil {
		return
	}
	m.LockAcquireTotal.WithLabelValues(result).Inc()
	m.LockWaitSeconds.Observe(waitSeconds)
}

func (m *Metrics) LockReleased(result string) {
	if m == nil {
		return
	}
	m.LockReleaseTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheRequest(result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RatesFetched(result string) {
	if m == nil {
		return
	}
	m.RatesFetchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) TransactionCreated(txType string) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(txType).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
