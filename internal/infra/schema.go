package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order inside one transaction. Statements are idempotent
// so Migrate can run on every boot.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        name TEXT NOT NULL,
        currency CHAR(3) NOT NULL,
        balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
        account_number TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS transactions (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        type TEXT NOT NULL,
        amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
        from_account_id TEXT REFERENCES accounts(id),
        to_account_id TEXT REFERENCES accounts(id),
        counterparty TEXT,
        note TEXT,
        reference_type TEXT,
        reference_id TEXT,
        metadata JSONB,
        status TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        account_id TEXT NOT NULL REFERENCES accounts(id),
        transaction_id TEXT NOT NULL REFERENCES transactions(id),
        direction TEXT NOT NULL CHECK (direction IN ('debit', 'credit')),
        amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
        balance_after_cents BIGINT NOT NULL,
        memo TEXT,
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS webhooks (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        url TEXT NOT NULL,
        secret TEXT NOT NULL,
        status TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        type TEXT NOT NULL,
        payload JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
        id TEXT PRIMARY KEY,
        webhook_id TEXT NOT NULL REFERENCES webhooks(id),
        event_id TEXT NOT NULL REFERENCES webhook_events(id),
        status TEXT NOT NULL,
        attempts INTEGER NOT NULL DEFAULT 0,
        last_error TEXT,
        last_response_code INTEGER,
        created_at TIMESTAMPTZ NOT NULL,
        delivered_at TIMESTAMPTZ,
        UNIQUE (webhook_id, event_id)
    )`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        idem_key TEXT NOT NULL,
        operation TEXT NOT NULL,
        method TEXT NOT NULL,
        request_hash TEXT NOT NULL,
        response_status INTEGER,
        response_content_type TEXT,
        response_body BYTEA,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        UNIQUE (user_id, idem_key, operation, method)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions(from_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions(to_account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_transaction ON ledger_entries(transaction_id)`,
	`CREATE INDEX IF NOT EXISTS idx_webhooks_user ON webhooks(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_pending ON webhook_deliveries(status, created_at)`,
}

// Migrate creates the wallet-core tables when they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for i, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
