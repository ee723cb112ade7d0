// Package rates fetches exchange rates and converts amounts into the ledger's
// reference currency.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/cache"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/metrics"
)

const (
	// CacheKey is the shared-store key of the cached rate table
	CacheKey = "exchange_rates"

	// DefaultTTL is how long a fetched table is reused
	DefaultTTL = time.Hour

	// Places is the precision of converted amounts
	Places = 4

	// maxBodySize caps the provider response
	maxBodySize = 1 << 20
)

// Table maps currency codes to units per one unit of Base.
type Table struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Convert expresses amount (in from) in the reference currency. Both codes
// must appear in the table unless from equals reference, in which case the
// amount is returned unchanged.
func Convert(amount decimal.Decimal, from, reference string, table Table) (decimal.Decimal, error) {
	if from == reference {
		return amount, nil
	}

	fromRate, ok := table.Rates[from]
	if !ok || !fromRate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, from)
	}
	refRate, ok := table.Rates[reference]
	if !ok || !refRate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no rate for reference currency %s", domain.ErrRatesUnavailable, reference)
	}

	return amount.Div(fromRate).Mul(refRate).Round(Places), nil
}

// Provider fetches the full rate table from an HTTP endpoint.
type Provider struct {
	url     string
	client  *http.Client
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewProvider creates a Provider for url. Requests time out after timeout.
func NewProvider(url string, timeout time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *Provider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: m,
	}
}

// providerResponse accepts both {"base": ...} and the open.er-api.com
// {"base_code": ...} shapes.
type providerResponse struct {
	Result   string                     `json:"result"`
	Base     string                     `json:"base"`
	BaseCode string                     `json:"base_code"`
	Rates    map[string]decimal.Decimal `json:"rates"`
}

// FetchRates downloads the current table. Every failure wraps
// domain.ErrRatesUnavailable.
func (p *Provider) FetchRates(ctx context.Context) (Table, error) {
	table, err := p.fetch(ctx)
	if err != nil {
		p.metrics.RatesFetched("error")
		p.logger.WithField("url", p.url).WithError(err).Warn("exchange rate fetch failed")
		return Table{}, fmt.Errorf("%w: %v", domain.ErrRatesUnavailable, err)
	}
	p.metrics.RatesFetched("success")
	p.logger.WithFields(logrus.Fields{
		"base":       table.Base,
		"currencies": len(table.Rates),
	}).Info("exchange rates fetched")
	return table, nil
}

func (p *Provider) fetch(ctx context.Context) (Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Table{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Table{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Table{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body providerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return Table{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Result != "" && body.Result != "success" {
		return Table{}, fmt.Errorf("provider result %q", body.Result)
	}
	if len(body.Rates) == 0 {
		return Table{}, fmt.Errorf("empty rate table")
	}

	base := body.Base
	if base == "" {
		base = body.BaseCode
	}
	table := Table{Base: strings.ToUpper(base), Rates: make(map[string]decimal.Decimal, len(body.Rates))}
	for code, rate := range body.Rates {
		table.Rates[strings.ToUpper(code)] = rate
	}
	if _, ok := table.Rates[table.Base]; !ok && table.Base != "" {
		table.Rates[table.Base] = decimal.NewFromInt(1)
	}
	return table, nil
}

// Fetcher is what Converter needs from a provider.
type Fetcher interface {
	FetchRates(ctx context.Context) (Table, error)
}

// Converter converts through a rate table cached in the shared store.
type Converter struct {
	fetcher   Fetcher
	cache     *cache.Cache
	ttl       time.Duration
	reference string
}

// NewConverter creates a Converter quoting into reference. ttl <= 0 uses DefaultTTL.
func NewConverter(fetcher Fetcher, c *cache.Cache, ttl time.Duration, reference string) *Converter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Converter{fetcher: fetcher, cache: c, ttl: ttl, reference: strings.ToUpper(strings.TrimSpace(reference))}
}

// ReferenceCurrency returns the code converted amounts are expressed in.
func (c *Converter) ReferenceCurrency() string {
	return c.reference
}

// Rates returns the cached table, fetching it on a miss.
func (c *Converter) Rates(ctx context.Context) (Table, error) {
	table, _, err := cache.Cached(ctx, c.cache, CacheKey, c.ttl, func(ctx context.Context) (Table, bool, error) {
		t, err := c.fetcher.FetchRates(ctx)
		if err != nil {
			return Table{}, false, err
		}
		return t, true, nil
	})
	return table, err
}

// ToReference converts amount from currency into the reference currency.
// The reference currency itself never touches the provider.
func (c *Converter) ToReference(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	if currency == c.reference {
		return amount, nil
	}
	table, err := c.Rates(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return Convert(amount, currency, c.reference, table)
}
