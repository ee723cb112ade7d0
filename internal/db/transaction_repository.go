package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
)

const transactionColumns = `id, store_id, created_by, amount, currency, type,
	amount_in_reference_currency, reference_currency, description, created_at, updated_at`

// periodExpr maps a grouping to the SQL extracting its period from created_at.
var periodExpr = map[domain.GroupBy]string{
	domain.GroupByDayOfWeek: `EXTRACT(DOW FROM created_at AT TIME ZONE 'UTC')::int + 1`,
	domain.GroupByMonth:     `EXTRACT(MONTH FROM created_at AT TIME ZONE 'UTC')::int`,
	domain.GroupByYear:      `EXTRACT(YEAR FROM created_at AT TIME ZONE 'UTC')::int`,
}

// TransactionRepository implements domain.TransactionRepository and
// domain.PeriodAggregator using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{
		pool: pool,
	}
}

// Create persists a new transaction record.
func (r *TransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		tx.ID,
		tx.StoreID,
		tx.CreatedBy,
		tx.Amount,
		tx.Currency,
		string(tx.Type),
		tx.AmountInReferenceCurrency,
		tx.ReferenceCurrency,
		tx.Description,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by its unique identifier.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return tx, nil
}

// LockByID acquires a pessimistic lock on the transaction row for the
// duration of the surrounding database transaction.
// This method MUST be called within a transaction context.
// Uses SELECT ... FOR UPDATE to lock the row.
func (r *TransactionRepository) LockByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	tx, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}

	return tx, nil
}

// Update persists the mutable fields of an existing transaction. Amounts,
// currency, type and store are never written.
func (r *TransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET description = $2,
		    updated_at = $3
		WHERE id = $1
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, tx.ID, tx.Description, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}

	return nil
}

// FindByStoreRange returns the store's transactions with created_at in
// [from, to), oldest first.
func (r *TransactionRepository) FindByStoreRange(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`

	rows, err := conn(ctx, r.pool).Query(ctx, query, storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txs, nil
}

// AggregateByPeriod groups the store's transactions in [from, to) by period
// and type inside PostgreSQL.
func (r *TransactionRepository) AggregateByPeriod(
	ctx context.Context,
	storeID uuid.UUID,
	from, to time.Time,
	groupBy domain.GroupBy,
) ([]domain.PeriodTotal, error) {
	expr, ok := periodExpr[groupBy]
	if !ok {
		return nil, fmt.Errorf("%w: groupBy %q", domain.ErrInvalidReportRequest, groupBy)
	}

	query := `
		SELECT ` + expr + ` AS period, type, SUM(amount_in_reference_currency), COUNT(*)
		FROM transactions
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY period, type
		ORDER BY period DESC, type
	`

	rows, err := conn(ctx, r.pool).Query(ctx, query, storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	defer rows.Close()

	var totals []domain.PeriodTotal
	for rows.Next() {
		var (
			period int32
			txType string
			sum    decimal.Decimal
			count  int64
		)
		if err := rows.Scan(&period, &txType, &sum, &count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		totals = append(totals, domain.PeriodTotal{
			TimePeriod:  int(period),
			Type:        domain.TransactionType(txType),
			TotalAmount: sum,
			Count:       count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate aggregates: %w", err)
	}

	return totals, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx     domain.Transaction
		txType string
	)
	err := row.Scan(
		&tx.ID,
		&tx.StoreID,
		&tx.CreatedBy,
		&tx.Amount,
		&tx.Currency,
		&txType,
		&tx.AmountInReferenceCurrency,
		&tx.ReferenceCurrency,
		&tx.Description,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Type = domain.TransactionType(txType)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return &tx, nil
}
