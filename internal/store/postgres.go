package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghost-pay/ghost_pay/internal/ledger"
	"github.com/ghost-pay/ghost_pay/internal/webhook"
)

const sqlStateLockNotAvailable = "55P03"

// Postgres runs units of work as READ COMMITTED transactions. Row locks taken
// with SELECT ... FOR UPDATE give the isolation the ledger needs.
type Postgres struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgres builds a Postgres unit of work. lockTimeout bounds every lock
// wait inside one transaction; zero leaves the server default.
func NewPostgres(db *pgxpool.Pool, lockTimeout time.Duration) *Postgres {
	return &Postgres{db: db, lockTimeout: lockTimeout}
}

type pgTx struct {
	ledger.Tx
	webhook.OutboxTx
}

func (p *Postgres) Do(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if p.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(pgTx{Tx: ledger.NewPostgresTx(tx), OutboxTx: webhook.NewPostgresOutboxTx(tx)}); err != nil {
		return translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translate(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateLockNotAvailable {
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	}
	return err
}
