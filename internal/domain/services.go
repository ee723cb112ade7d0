package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/metrics"
)

var (
	// ErrTransactionInProgress is returned when another writer holds the store lock
	ErrTransactionInProgress = errors.New("another transaction is being processed for this store")

	// ErrRatesUnavailable is returned when exchange rates cannot be obtained
	ErrRatesUnavailable = errors.New("exchange rates unavailable")

	// ErrUnsupportedCurrency is returned when the rate table has no entry for a currency
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrTransactionNotFound is returned when a transaction doesn't exist
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidAmount is returned when the transaction amount is invalid
	ErrInvalidAmount = errors.New("invalid amount: must be positive")

	// ErrInvalidCurrency is returned when a currency code is malformed
	ErrInvalidCurrency = errors.New("invalid currency code")

	// ErrInvalidTransactionType is returned for types other than credit and debit
	ErrInvalidTransactionType = errors.New("invalid transaction type: must be credit or debit")

	// ErrInvalidDescription is returned when a description is too long
	ErrInvalidDescription = errors.New("invalid description")

	// ErrInvalidStore is returned when the store identifier is missing
	ErrInvalidStore = errors.New("store id is required")

	// ErrInvalidReportRequest is returned for malformed report parameters
	ErrInvalidReportRequest = errors.New("invalid report request")
)

// releaseTimeout bounds the lock release issued after the critical section.
const releaseTimeout = 2 * time.Second

// StoreLockKey names the lock serializing transaction creation for a store.
func StoreLockKey(storeID uuid.UUID) string {
	return "stores:" + storeID.String() + ":transactions"
}

// TransactionService handles the business logic for store transactions.
// It coordinates the store lock, currency conversion and persistence.
type TransactionService struct {
	locker    Locker
	converter CurrencyConverter
	repo      TransactionRepository
	txManager TransactionManager
	// Optional event publisher to emit domain events (e.g. transaction created)
	eventPublisher EventPublisher
	publishing     sync.WaitGroup
	logger         logrus.FieldLogger
	metrics        *metrics.Metrics
}

// NewTransactionService creates a new instance of TransactionService.
// Pass nil for eventPublisher if no events should be emitted.
func NewTransactionService(
	locker Locker,
	converter CurrencyConverter,
	repo TransactionRepository,
	txManager TransactionManager,
	eventPublisher EventPublisher,
	logger logrus.FieldLogger,
	m *metrics.Metrics,
) *TransactionService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TransactionService{
		locker:         locker,
		converter:      converter,
		repo:           repo,
		txManager:      txManager,
		eventPublisher: eventPublisher,
		logger:         logger,
		metrics:        m,
	}
}

// CreateTransaction records a transaction for a store.
//
// Creation is serialized per store:
// 1. Acquire the store lock, failing fast with ErrTransactionInProgress
// 2. Convert the amount into the reference currency (cached rate table)
// 3. Persist the transaction
// 4. Release the lock, whatever happened in steps 2 and 3
//
// The created event is published after the lock is released.
func (s *TransactionService) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*Transaction, error) {
	if err := ValidateCreateRequest(req); err != nil {
		return nil, err
	}

	tx, err := s.createLocked(ctx, req)
	if err != nil {
		return nil, err
	}

	s.metrics.TransactionCreated(string(tx.Type))
	s.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"store_id":       tx.StoreID,
		"type":           tx.Type,
		"amount":         tx.Amount.String(),
		"currency":       tx.Currency,
	}).Info("transaction created")

	// Best-effort: the transaction is already committed, a broker outage
	// must not make it look failed.
	if s.eventPublisher != nil {
		s.publishing.Add(1)
		go func(t *Transaction) {
			defer s.publishing.Done()
			if err := s.eventPublisher.PublishTransactionCreated(context.Background(), t); err != nil {
				s.logger.WithField("transaction_id", t.ID).WithError(err).Warn("failed to publish transaction created event")
			}
		}(tx)
	}

	return tx, nil
}

func (s *TransactionService) createLocked(ctx context.Context, req CreateTransactionRequest) (*Transaction, error) {
	key := StoreLockKey(req.StoreID)

	res, err := s.locker.Acquire(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to acquire store lock: %w", err)
	}
	if !res.Acquired() {
		return nil, ErrTransactionInProgress
	}
	defer s.release(ctx, key, res.Token)

	converted, err := s.toReference(ctx, req)
	if err != nil {
		return nil, err
	}

	tx := NewTransaction(req, converted, s.converter.ReferenceCurrency())
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return tx, nil
}

func (s *TransactionService) toReference(ctx context.Context, req CreateTransactionRequest) (decimal.Decimal, error) {
	converted, err := s.converter.ToReference(ctx, req.Amount, req.Currency)
	if err == nil {
		return converted, nil
	}
	if errors.Is(err, ErrUnsupportedCurrency) || errors.Is(err, ErrRatesUnavailable) {
		return converted, err
	}
	return converted, fmt.Errorf("%w: %v", ErrRatesUnavailable, err)
}

// release frees the store lock. It runs on a context detached from the
// request so a cancelled caller still frees the lock. Failures are logged and
// left to the lock TTL.
func (s *TransactionService) release(ctx context.Context, key, token string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	released, err := s.locker.Release(releaseCtx, key, token)
	switch {
	case err != nil:
		s.logger.WithField("lock", key).WithError(err).Error("failed to release store lock")
	case !released:
		s.logger.WithField("lock", key).Warn("store lock expired before release")
	}
}

// WaitForEvents blocks until every in-flight event publish has finished or
// ctx is done. Call it before closing the publisher.
func (s *TransactionService) WaitForEvents(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishing.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetTransaction retrieves a transaction by id.
func (s *TransactionService) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// UpdateDescription changes the note of an existing transaction. Amounts,
// currency and store are immutable and cannot be changed through it.
func (s *TransactionService) UpdateDescription(ctx context.Context, id uuid.UUID, description string) (*Transaction, error) {
	if err := ValidateDescription(description); err != nil {
		return nil, err
	}

	var tx *Transaction
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		tx, err = s.repo.LockByID(txCtx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return ErrTransactionNotFound
		}

		tx.UpdateDescription(description)
		if err := s.repo.Update(txCtx, tx); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// IsStoreLocked reports whether a transaction is currently being created for
// the store. The answer is advisory.
func (s *TransactionService) IsStoreLocked(ctx context.Context, storeID uuid.UUID) (bool, error) {
	return s.locker.IsLocked(ctx, StoreLockKey(storeID))
}
