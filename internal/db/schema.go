package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id                           UUID PRIMARY KEY,
		store_id                     UUID NOT NULL,
		created_by                   UUID NOT NULL,
		amount                       NUMERIC(20, 4) NOT NULL CHECK (amount > 0),
		currency                     CHAR(3) NOT NULL,
		type                         VARCHAR(6) NOT NULL CHECK (type IN ('credit', 'debit')),
		amount_in_reference_currency NUMERIC(20, 4) NOT NULL,
		reference_currency           CHAR(3) NOT NULL,
		description                  TEXT NOT NULL DEFAULT '',
		created_at                   TIMESTAMPTZ NOT NULL,
		updated_at                   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_store_created_at
		ON transactions (store_id, created_at)`,
}

// Migrate creates the ledger tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
