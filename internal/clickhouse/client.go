// Package clickhouse keeps an analytics replica of ledger transactions in
// ClickHouse and serves reports from it.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/config"
)

// Client wraps the ClickHouse driver connection
type Client struct {
	conn driver.Conn
}

// NewClient creates a new ClickHouse client with the given configuration
func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Host},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Ready reports whether ClickHouse answers a ping.
func (c *Client) Ready(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// EnsureSchema creates the transactions table if it does not exist.
// ReplacingMergeTree collapses redelivered events with the same key.
func (c *Client) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS transactions (
		id UUID,
		store_id UUID,
		created_by UUID,
		amount Decimal(20, 4),
		currency LowCardinality(String),
		type Enum8('credit' = 1, 'debit' = 2),
		amount_in_reference_currency Decimal(20, 4),
		reference_currency LowCardinality(String),
		description String,
		created_at DateTime64(3, 'UTC'),
		updated_at DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (store_id, created_at, id)
	`

	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create transactions table: %w", err)
	}
	return nil
}
