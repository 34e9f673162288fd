package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghost-pay/ghost_pay/internal/ledger"
)

// Repository persists accounts. Reads are always scoped to an owner.
type Repository interface {
	Create(ctx context.Context, acc ledger.Account) error
	Get(ctx context.Context, ownerID, id string) (ledger.Account, bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error)
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an account row.
func (r *PostgresRepository) Create(ctx context.Context, acc ledger.Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (id, user_id, name, currency, balance_cents, account_number, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acc.ID, acc.OwnerID, acc.Name, acc.Currency, acc.Balance, acc.Number, acc.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Get fetches one of the owner's accounts.
func (r *PostgresRepository) Get(ctx context.Context, ownerID, id string) (ledger.Account, bool, error) {
	row := r.db.QueryRow(ctx, `SELECT id, user_id, name, currency, balance_cents, account_number, created_at
        FROM accounts WHERE id = $1 AND user_id = $2`, id, ownerID)
	acc, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, false, nil
	}
	if err != nil {
		return ledger.Account{}, false, err
	}
	return acc, true, nil
}

// ListByOwner returns the owner's accounts, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT id, user_id, name, currency, balance_cents, account_number, created_at
        FROM accounts WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var acc ledger.Account
	if err := row.Scan(&acc.ID, &acc.OwnerID, &acc.Name, &acc.Currency, &acc.Balance, &acc.Number, &acc.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	acc.Currency = strings.TrimSpace(acc.Currency)
	acc.CreatedAt = acc.CreatedAt.UTC()
	return acc, nil
}
