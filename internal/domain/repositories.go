package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/lock"
)

// TransactionRepository defines the interface for transaction data access operations.
// This follows the Repository pattern to abstract data persistence logic.
type TransactionRepository interface {
	// Create persists a new transaction record.
	Create(ctx context.Context, tx *Transaction) error

	// GetByID retrieves a transaction by its unique identifier.
	// Returns ErrTransactionNotFound if it doesn't exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// LockByID retrieves a transaction and locks its row for the duration of
	// the surrounding database transaction.
	// Must be called within a transaction context.
	LockByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// Update persists the mutable fields of an existing transaction.
	Update(ctx context.Context, tx *Transaction) error

	ReportSource
}

// ReportSource is the read side the report aggregator needs.
type ReportSource interface {
	// FindByStoreRange returns the store's transactions created in [from, to).
	FindByStoreRange(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]*Transaction, error)
}

// PeriodAggregator is implemented by sources that can group and sum on the
// server side. Rows must match what GroupByPeriod computes from
// FindByStoreRange over the same range.
type PeriodAggregator interface {
	AggregateByPeriod(ctx context.Context, storeID uuid.UUID, from, to time.Time, groupBy GroupBy) ([]PeriodTotal, error)
}

// TransactionManager defines the interface for managing database transactions.
// This abstraction allows the service layer to work with transactions
// without being coupled to a specific database implementation.
type TransactionManager interface {
	// WithTransaction executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher publishes domain events to external systems (e.g. RabbitMQ).
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, tx *Transaction) error
}

// Locker provides cross-process mutual exclusion keyed by name.
type Locker interface {
	Acquire(ctx context.Context, key string, opts ...lock.Option) (lock.Result, error)
	Release(ctx context.Context, key, token string) (bool, error)
	IsLocked(ctx context.Context, key string) (bool, error)
}

// CurrencyConverter converts amounts into the reference currency.
// Implementations return errors wrapping ErrUnsupportedCurrency or
// ErrRatesUnavailable.
type CurrencyConverter interface {
	ToReference(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error)
	ReferenceCurrency() string
}
