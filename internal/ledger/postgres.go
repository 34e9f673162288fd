package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the read side of the ledger backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger reader.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, user_id, type, amount_cents, from_account_id, to_account_id,
    counterparty, note, reference_type, reference_id, metadata, status, created_at`

// Transactions lists the owner's transactions, newest first.
func (s *PostgresStore) Transactions(ctx context.Context, ownerID string, filter TransactionFilter) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{ownerID}
	if filter.AccountID != "" {
		query += ` AND (from_account_id = $2 OR to_account_id = $2)`
		args = append(args, filter.AccountID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, ClampLimit(filter.Limit))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// Entries lists the ledger lines of one account, newest first.
func (s *PostgresStore) Entries(ctx context.Context, ownerID, accountID string, limit int) ([]Entry, error) {
	const query = `SELECT id, user_id, account_id, transaction_id, direction, amount_cents,
        balance_after_cents, COALESCE(memo, ''), created_at
        FROM ledger_entries WHERE user_id = $1 AND account_id = $2
        ORDER BY created_at DESC, id DESC LIMIT $3`
	rows, err := s.db.Query(ctx, query, ownerID, accountID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var dir string
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.AccountID, &e.TransactionID, &dir, &e.Amount,
			&e.BalanceAfter, &e.Memo, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Direction = Direction(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summary implements Reader.
func (s *PostgresStore) Summary(ctx context.Context, ownerID string, since time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRow(ctx, `SELECT
          (SELECT COALESCE(SUM(balance_cents), 0) FROM accounts WHERE user_id = $1),
          COALESCE(SUM(amount_cents) FILTER (WHERE type = 'deposit' AND created_at >= $2), 0),
          COALESCE(SUM(amount_cents) FILTER (WHERE type IN ('withdrawal', 'payment') AND created_at >= $2), 0),
          COUNT(*)
        FROM transactions WHERE user_id = $1`, ownerID, since).
		Scan(&sum.TotalBalance, &sum.Income, &sum.Spend, &sum.TransactionCount)
	if err != nil {
		return Summary{}, fmt.Errorf("query summary: %w", err)
	}
	return sum, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		txn                    Transaction
		kind                   string
		from, to, counterparty *string
		note, refType, refID   *string
		metadata               []byte
	)
	if err := row.Scan(&txn.ID, &txn.OwnerID, &kind, &txn.Amount, &from, &to, &counterparty,
		&note, &refType, &refID, &metadata, &txn.Status, &txn.CreatedAt); err != nil {
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	txn.Kind = Kind(kind)
	txn.FromAccountID = deref(from)
	txn.ToAccountID = deref(to)
	txn.Counterparty = deref(counterparty)
	txn.Note = deref(note)
	if refType != nil && refID != nil {
		txn.Reference = &Reference{Type: *refType, ID: *refID}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return txn, nil
}

// pgTx adapts a pgx transaction to the engine's Tx.
type pgTx struct {
	tx pgx.Tx
}

// NewPostgresTx wraps tx so the engine can post through it. The caller owns
// commit and rollback.
func NewPostgresTx(tx pgx.Tx) Tx {
	return &pgTx{tx: tx}
}

func (p *pgTx) LockAccount(ctx context.Context, ownerID, accountID string) (Account, bool, error) {
	const query = `SELECT id, user_id, name, currency, balance_cents, account_number, created_at
        FROM accounts WHERE id = $1 AND user_id = $2 FOR UPDATE`
	var acc Account
	err := p.tx.QueryRow(ctx, query, accountID, ownerID).Scan(&acc.ID, &acc.OwnerID, &acc.Name,
		&acc.Currency, &acc.Balance, &acc.Number, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return acc, true, nil
}

func (p *pgTx) SetBalance(ctx context.Context, accountID string, balance int64) error {
	tag, err := p.tx.Exec(ctx, `UPDATE accounts SET balance_cents = $2 WHERE id = $1`, accountID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("account %s not updated", accountID)
	}
	return nil
}

func (p *pgTx) InsertTransaction(ctx context.Context, txn Transaction) error {
	var metadata []byte
	if len(txn.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(txn.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	var refType, refID *string
	if txn.Reference != nil {
		refType, refID = &txn.Reference.Type, &txn.Reference.ID
	}
	_, err := p.tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		txn.ID, txn.OwnerID, string(txn.Kind), txn.Amount, nullable(txn.FromAccountID), nullable(txn.ToAccountID),
		nullable(txn.Counterparty), nullable(txn.Note), refType, refID, metadata, txn.Status, txn.CreatedAt)
	return err
}

func (p *pgTx) InsertEntry(ctx context.Context, e Entry) error {
	_, err := p.tx.Exec(ctx, `INSERT INTO ledger_entries (id, user_id, account_id, transaction_id, direction,
        amount_cents, balance_after_cents, memo, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.OwnerID, e.AccountID, e.TransactionID, string(e.Direction), e.Amount, e.BalanceAfter,
		nullable(e.Memo), e.CreatedAt)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
