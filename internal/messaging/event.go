package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
)

// EventTypeTransactionCreated is the eventType of TransactionCreatedEvent
const EventTypeTransactionCreated = "transaction.created"

// errInvalidEvent marks messages that can never be processed.
var errInvalidEvent = errors.New("invalid event")

// TransactionCreatedEvent represents the event payload when a transaction is recorded.
// Amounts travel as decimal strings so no precision is lost.
type TransactionCreatedEvent struct {
	EventID                   string `json:"eventId"`
	EventType                 string `json:"eventType"`
	EventTimestamp            string `json:"eventTimestamp"`
	TransactionID             string `json:"transactionId"`
	StoreID                   string `json:"storeId"`
	CreatedBy                 string `json:"createdBy"`
	Amount                    string `json:"amount"`
	Currency                  string `json:"currency"`
	Type                      string `json:"type"`
	AmountInReferenceCurrency string `json:"amountInReferenceCurrency"`
	ReferenceCurrency         string `json:"referenceCurrency"`
	Description               string `json:"description,omitempty"`
	CreatedAt                 string `json:"createdAt"`
}

// NewTransactionCreatedEvent builds the event for a persisted transaction.
func NewTransactionCreatedEvent(tx *domain.Transaction) TransactionCreatedEvent {
	return TransactionCreatedEvent{
		EventID:                   uuid.NewString(),
		EventType:                 EventTypeTransactionCreated,
		EventTimestamp:            time.Now().UTC().Format(time.RFC3339Nano),
		TransactionID:             tx.ID.String(),
		StoreID:                   tx.StoreID.String(),
		CreatedBy:                 tx.CreatedBy.String(),
		Amount:                    tx.Amount.String(),
		Currency:                  tx.Currency,
		Type:                      string(tx.Type),
		AmountInReferenceCurrency: tx.AmountInReferenceCurrency.String(),
		ReferenceCurrency:         tx.ReferenceCurrency,
		Description:               tx.Description,
		CreatedAt:                 tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Transaction validates the event and converts it back to a domain.Transaction.
// Errors wrap errInvalidEvent.
func (e TransactionCreatedEvent) Transaction() (*domain.Transaction, error) {
	if e.EventType != EventTypeTransactionCreated {
		return nil, fmt.Errorf("%w: unexpected event type %q", errInvalidEvent, e.EventType)
	}

	var (
		tx  domain.Transaction
		err error
	)
	if tx.ID, err = uuid.Parse(e.TransactionID); err != nil {
		return nil, fmt.Errorf("%w: transaction id: %v", errInvalidEvent, err)
	}
	if tx.StoreID, err = uuid.Parse(e.StoreID); err != nil {
		return nil, fmt.Errorf("%w: store id: %v", errInvalidEvent, err)
	}
	if tx.CreatedBy, err = uuid.Parse(e.CreatedBy); err != nil {
		return nil, fmt.Errorf("%w: created by: %v", errInvalidEvent, err)
	}
	if tx.Amount, err = decimal.NewFromString(e.Amount); err != nil {
		return nil, fmt.Errorf("%w: amount: %v", errInvalidEvent, err)
	}
	if tx.AmountInReferenceCurrency, err = decimal.NewFromString(e.AmountInReferenceCurrency); err != nil {
		return nil, fmt.Errorf("%w: reference amount: %v", errInvalidEvent, err)
	}
	if tx.Type, err = domain.ParseTransactionType(e.Type); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if err := domain.ValidateCurrencyCode(e.Currency); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if err := domain.ValidateCurrencyCode(e.ReferenceCurrency); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, e.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: created at: %v", errInvalidEvent, err)
	}

	tx.Currency = e.Currency
	tx.ReferenceCurrency = e.ReferenceCurrency
	tx.Description = e.Description
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.CreatedAt
	return &tx, nil
}
