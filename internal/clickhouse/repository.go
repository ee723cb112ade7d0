package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
)

// periodExpr maps a grouping to the ClickHouse expression of its period.
// toDayOfWeek is Monday = 1 ... Sunday = 7; the modulo shifts it to
// Sunday = 1 ... Saturday = 7.
var periodExpr = map[domain.GroupBy]string{
	domain.GroupByDayOfWeek: `toInt32((toDayOfWeek(created_at) % 7) + 1)`,
	domain.GroupByMonth:     `toInt32(toMonth(created_at))`,
	domain.GroupByYear:      `toInt32(toYear(created_at))`,
}

// TransactionRepository stores and aggregates the transaction replica.
// It implements domain.ReportSource and domain.PeriodAggregator.
type TransactionRepository struct {
	client *Client
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(client *Client) *TransactionRepository {
	return &TransactionRepository{client: client}
}

// InsertTransaction inserts a transaction into the replica. Inserting the
// same transaction twice is harmless: reads use FINAL.
func (r *TransactionRepository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, store_id, created_by, amount, currency, type,
			amount_in_reference_currency, reference_currency, description,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.client.Conn().Exec(ctx, query,
		tx.ID.String(),
		tx.StoreID.String(),
		tx.CreatedBy.String(),
		tx.Amount.String(),
		tx.Currency,
		string(tx.Type),
		tx.AmountInReferenceCurrency.String(),
		tx.ReferenceCurrency,
		tx.Description,
		tx.CreatedAt.UTC(),
		tx.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
	}

	return nil
}

// FindByStoreRange returns the store's transactions with created_at in
// [from, to), oldest first.
func (r *TransactionRepository) FindByStoreRange(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT
			toString(id), toString(store_id), toString(created_by),
			toString(amount), currency, toString(type),
			toString(amount_in_reference_currency), reference_currency, description,
			created_at, updated_at
		FROM transactions FINAL
		WHERE store_id = toUUID(?) AND created_at >= ? AND created_at < ?
		ORDER BY created_at
	`

	rows, err := r.client.Conn().Query(ctx, query, storeID.String(), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for store %s: %w", storeID, err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var (
			id, store, createdBy  string
			amount, refAmount     string
			currency, refCurrency string
			txType, description   string
			createdAt, updatedAt  time.Time
		)
		if err := rows.Scan(
			&id, &store, &createdBy,
			&amount, &currency, &txType,
			&refAmount, &refCurrency, &description,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}

		tx, err := buildTransaction(id, store, createdBy, amount, refAmount)
		if err != nil {
			return nil, err
		}
		tx.Currency = currency
		tx.Type = domain.TransactionType(txType)
		tx.ReferenceCurrency = refCurrency
		tx.Description = description
		tx.CreatedAt = createdAt.UTC()
		tx.UpdatedAt = updatedAt.UTC()
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return txs, nil
}

// AggregateByPeriod groups the store's transactions in [from, to) by period
// and type inside ClickHouse.
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
		SELECT
			` + expr + ` AS period,
			toString(type) AS type_name,
			toString(sum(amount_in_reference_currency)) AS total,
			count() AS cnt
		FROM transactions FINAL
		WHERE store_id = toUUID(?) AND created_at >= ? AND created_at < ?
		GROUP BY period, type_name
		ORDER BY period DESC, type_name
	`

	rows, err := r.client.Conn().Query(ctx, query, storeID.String(), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions for store %s: %w", storeID, err)
	}
	defer rows.Close()

	var totals []domain.PeriodTotal
	for rows.Next() {
		var (
			period int32
			txType string
			total  string
			count  uint64
		)
		if err := rows.Scan(&period, &txType, &total, &count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		sum, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("failed to parse aggregate sum %q: %w", total, err)
		}
		totals = append(totals, domain.PeriodTotal{
			TimePeriod:  int(period),
			Type:        domain.TransactionType(txType),
			TotalAmount: sum,
			Count:       int64(count),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregate rows: %w", err)
	}

	return totals, nil
}

func buildTransaction(id, store, createdBy, amount, refAmount string) (*domain.Transaction, error) {
	var (
		tx  domain.Transaction
		err error
	)
	if tx.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", id, err)
	}
	if tx.StoreID, err = uuid.Parse(store); err != nil {
		return nil, fmt.Errorf("invalid store_id %q: %w", store, err)
	}
	if tx.CreatedBy, err = uuid.Parse(createdBy); err != nil {
		return nil, fmt.Errorf("invalid created_by %q: %w", createdBy, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if tx.AmountInReferenceCurrency, err = decimal.NewFromString(refAmount); err != nil {
		return nil, fmt.Errorf("invalid reference amount %q: %w", refAmount, err)
	}
	return &tx, nil
}
