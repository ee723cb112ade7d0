package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType tells whether money entered or left the store.
type TransactionType string

const (
	// TransactionTypeCredit is money received by the store
	TransactionTypeCredit TransactionType = "credit"

	// TransactionTypeDebit is money paid out by the store
	TransactionTypeDebit TransactionType = "debit"
)

// Transaction is a single ledger record of a store.
// StoreID, Amount, Currency and AmountInReferenceCurrency never change after
// creation; reports rely on the reference amount computed at that moment.
type Transaction struct {
	ID                        uuid.UUID       // Unique identifier of the transaction
	StoreID                   uuid.UUID       // Owning store
	CreatedBy                 uuid.UUID       // User who recorded the transaction
	Amount                    decimal.Decimal // Amount in the origin currency
	Currency                  string          // ISO 4217 origin currency code
	Type                      TransactionType // credit or debit
	AmountInReferenceCurrency decimal.Decimal // Amount converted at creation time
	ReferenceCurrency         string          // Currency of AmountInReferenceCurrency
	Description               string          // Free-form note, the only mutable field
	CreatedAt                 time.Time       // Creation timestamp (UTC)
	UpdatedAt                 time.Time       // Timestamp of the last description change
}

// CreateTransactionRequest carries the caller's input for CreateTransaction.
type CreateTransactionRequest struct {
	StoreID     uuid.UUID
	CreatedBy   uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Type        TransactionType
	Description string
}

// NewTransaction creates a Transaction stamped with the current time.
func NewTransaction(req CreateTransactionRequest, converted decimal.Decimal, referenceCurrency string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:                        uuid.New(),
		StoreID:                   req.StoreID,
		CreatedBy:                 req.CreatedBy,
		Amount:                    req.Amount,
		Currency:                  req.Currency,
		Type:                      req.Type,
		AmountInReferenceCurrency: converted,
		ReferenceCurrency:         referenceCurrency,
		Description:               req.Description,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

// UpdateDescription replaces the note on the transaction.
func (t *Transaction) UpdateDescription(description string) {
	t.Description = description
	t.UpdatedAt = time.Now().UTC()
}

// ReportDuration is the length of the reporting window.
type ReportDuration string

const (
	ReportDurationWeek  ReportDuration = "week"
	ReportDurationMonth ReportDuration = "month"
)

// GroupBy is the time-period function applied to CreatedAt to form buckets.
type GroupBy string

const (
	// GroupByDayOfWeek buckets by weekday, 1 = Sunday ... 7 = Saturday
	GroupByDayOfWeek GroupBy = "dayOfWeek"

	// GroupByMonth buckets by calendar month, 1 ... 12
	GroupByMonth GroupBy = "month"

	// GroupByYear buckets by calendar year
	GroupByYear GroupBy = "year"
)

// ReportRequest selects the store, window and granularity of a report.
type ReportRequest struct {
	StoreID   uuid.UUID
	Duration  ReportDuration
	StartDate time.Time
	GroupBy   GroupBy
}

// PeriodTotal is one (period, type) group: the sum of reference amounts and
// the number of transactions.
type PeriodTotal struct {
	TimePeriod  int
	Type        TransactionType
	TotalAmount decimal.Decimal
	Count       int64
}

// TypeTotal is the per-type part of a bucket.
type TypeTotal struct {
	Type        TransactionType
	TotalAmount decimal.Decimal
	Count       int64
}

// Bucket aggregates every transaction whose CreatedAt maps to TimePeriod.
type Bucket struct {
	TimePeriod   int
	Label        string
	Transactions []TypeTotal
}

// Summary totals the whole report window, independent of grouping.
type Summary struct {
	TotalCredit      decimal.Decimal
	TotalDebit       decimal.Decimal
	TransactionCount int64
	NetFlow          decimal.Decimal
}

// Report is the result of GenerateReport. EndDate is exclusive.
type Report struct {
	StoreID   uuid.UUID
	StartDate time.Time
	EndDate   time.Time
	GroupBy   GroupBy
	Buckets   []Bucket
	Summary   Summary
}
