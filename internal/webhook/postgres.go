package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps subscriptions, events and deliveries in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs the Postgres-backed webhook store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListEligible(ctx context.Context, maxAttempts, limit int) ([]Pending, error) {
	const query = `SELECT d.id, d.webhook_id, d.event_id, d.status, d.attempts, d.created_at,
        w.url, w.secret, e.user_id, e.type, e.payload, e.created_at
        FROM webhook_deliveries d
        JOIN webhooks w ON w.id = d.webhook_id
        JOIN webhook_events e ON e.id = d.event_id
        WHERE d.status IN ('pending', 'failed') AND d.attempts < $1 AND w.status = 'active'
        ORDER BY d.created_at ASC
        LIMIT $2`
	rows, err := s.db.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query eligible deliveries: %w", err)
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		var p Pending
		if err := rows.Scan(&p.Delivery.ID, &p.Delivery.SubscriptionID, &p.Delivery.EventID, &p.Delivery.Status,
			&p.Delivery.Attempts, &p.Delivery.CreatedAt, &p.URL, &p.Secret, &p.Event.OwnerID, &p.Event.Type,
			&p.Event.Payload, &p.Event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		p.Event.ID = p.Delivery.EventID
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Claim(ctx context.Context, deliveryID string, maxAttempts int) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE webhook_deliveries SET status = 'processing'
        WHERE id = $1 AND status IN ('pending', 'failed') AND attempts < $2
          AND EXISTS (SELECT 1 FROM webhooks w WHERE w.id = webhook_deliveries.webhook_id AND w.status = 'active')`, deliveryID, maxAttempts)
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, deliveryID string, code int, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE webhook_deliveries
        SET status = 'delivered', attempts = attempts + 1, last_response_code = $2, last_error = NULL, delivered_at = $3
        WHERE id = $1 AND status = 'processing'`, deliveryID, code, at)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, deliveryID string, code int, reason string) error {
	var codeArg *int
	if code > 0 {
		codeArg = &code
	}
	_, err := s.db.Exec(ctx, `UPDATE webhook_deliveries
        SET status = 'failed', attempts = attempts + 1, last_response_code = $2, last_error = $3
        WHERE id = $1 AND status = 'processing'`, deliveryID, codeArg, reason)
	return err
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub Subscription) error {
	_, err := s.db.Exec(ctx, `INSERT INTO webhooks (id, user_id, url, secret, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, sub.ID, sub.OwnerID, sub.URL, sub.Secret, sub.Status, sub.CreatedAt)
	return err
}

func (s *PostgresStore) Subscriptions(ctx context.Context, ownerID string) ([]Subscription, error) {
	rows, err := s.db.Query(ctx, `SELECT id, user_id, url, status, created_at FROM webhooks
        WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.OwnerID, &sub.URL, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Subscription(ctx context.Context, ownerID, id string) (Subscription, bool, error) {
	var sub Subscription
	err := s.db.QueryRow(ctx, `SELECT id, user_id, url, status, created_at FROM webhooks
        WHERE id = $1 AND user_id = $2`, id, ownerID).Scan(&sub.ID, &sub.OwnerID, &sub.URL, &sub.Status, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	return sub, true, nil
}

func (s *PostgresStore) DisableSubscription(ctx context.Context, ownerID, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE webhooks SET status = 'disabled' WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecentEvents(ctx context.Context, ownerID string, limit int) ([]Event, error) {
	rows, err := s.db.Query(ctx, `SELECT id, user_id, type, payload, created_at FROM webhook_events
        WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecentDeliveries(ctx context.Context, ownerID string, limit int) ([]Delivery, error) {
	rows, err := s.db.Query(ctx, `SELECT d.id, d.webhook_id, d.event_id, d.status, d.attempts,
        COALESCE(d.last_error, ''), COALESCE(d.last_response_code, 0), d.created_at, d.delivered_at
        FROM webhook_deliveries d
        JOIN webhooks w ON w.id = d.webhook_id
        WHERE w.user_id = $1
        ORDER BY d.created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventID, &d.Status, &d.Attempts, &d.LastError,
			&d.LastResponseCode, &d.CreatedAt, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RunOutbox runs fn in its own transaction. Ledger postings use the shared
// unit of work in the store package instead.
func (s *PostgresStore) RunOutbox(ctx context.Context, fn func(OutboxTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(NewPostgresOutboxTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgOutboxTx struct {
	tx pgx.Tx
}

// NewPostgresOutboxTx lets the outbox write through an open pgx transaction.
func NewPostgresOutboxTx(tx pgx.Tx) OutboxTx {
	return &pgOutboxTx{tx: tx}
}

func (p *pgOutboxTx) ActiveSubscriptionIDs(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := p.tx.Query(ctx, `SELECT id FROM webhooks WHERE user_id = $1 AND status = 'active'
        ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *pgOutboxTx) InsertEvent(ctx context.Context, ev Event) error {
	_, err := p.tx.Exec(ctx, `INSERT INTO webhook_events (id, user_id, type, payload, created_at)
        VALUES ($1, $2, $3, $4, $5)`, ev.ID, ev.OwnerID, ev.Type, []byte(ev.Payload), ev.CreatedAt)
	return err
}

func (p *pgOutboxTx) InsertDelivery(ctx context.Context, d Delivery) error {
	_, err := p.tx.Exec(ctx, `INSERT INTO webhook_deliveries (id, webhook_id, event_id, status, attempts, created_at)
        VALUES ($1, $2, $3, $4, 0, $5)`, d.ID, d.SubscriptionID, d.EventID, d.Status, d.CreatedAt)
	return err
}
