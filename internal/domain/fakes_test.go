package domain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/lock"
)

// memRepo is an in-memory TransactionRepository.
type memRepo struct {
	mu        sync.Mutex
	txs       map[uuid.UUID]*Transaction
	createErr error
	delay     time.Duration
	findCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{txs: make(map[uuid.UUID]*Transaction)}
}

func (r *memRepo) Create(_ context.Context, tx *Transaction) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *tx
	r.txs[tx.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *memRepo) LockByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *memRepo) Update(_ context.Context, tx *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; !ok {
		return ErrTransactionNotFound
	}
	cp := *tx
	r.txs[tx.ID] = &cp
	return nil
}

func (r *memRepo) FindByStoreRange(_ context.Context, storeID uuid.UUID, from, to time.Time) ([]*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findCalls++
	var out []*Transaction
	for _, tx := range r.txs {
		if tx.StoreID != storeID || tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

// put stores a transaction as-is, bypassing the workflow.
func (r *memRepo) put(tx *Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID] = tx
}

// directTx runs the callback without a database.
type directTx struct{}

func (directTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// tableConverter converts with a fixed table quoted against USD.
type tableConverter struct {
	rates map[string]decimal.Decimal
	err   error
	calls int
}

func (c *tableConverter) ToReference(_ context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	c.calls++
	if currency == "USD" {
		return amount, nil
	}
	if c.err != nil {
		return decimal.Zero, c.err
	}
	rate, ok := c.rates[currency]
	if !ok {
		return decimal.Zero, ErrUnsupportedCurrency
	}
	return amount.Div(rate).Round(4), nil
}

func (c *tableConverter) ReferenceCurrency() string { return "USD" }

// chanPublisher hands published transactions to a channel.
type chanPublisher struct {
	ch  chan *Transaction
	err error
}

func (p *chanPublisher) PublishTransactionCreated(_ context.Context, tx *Transaction) error {
	p.ch <- tx
	return p.err
}

// gatedPublisher blocks every publish until release is closed.
type gatedPublisher struct {
	release   chan struct{}
	published atomic.Int32
}

func (p *gatedPublisher) PublishTransactionCreated(context.Context, *Transaction) error {
	<-p.release
	p.published.Add(1)
	return nil
}

// brokenReleaseLocker acquires through a real manager but fails every release.
type brokenReleaseLocker struct {
	*lock.Manager
	releases int
}

func (l *brokenReleaseLocker) Release(context.Context, string, string) (bool, error) {
	l.releases++
	return false, errors.New("redis: i/o timeout")
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
