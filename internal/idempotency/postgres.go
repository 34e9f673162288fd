package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghost-pay/ghost_pay/internal/ids"
)

// PostgresStore keeps records in the idempotency_keys table. The unique
// constraint on (user_id, idem_key, operation, method) is the mutex.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
	ttl         time.Duration
	now         func() time.Time
}

// NewPostgresStore builds the store. Unresolved records older than lockTimeout
// can be taken over; any record older than ttl is forgotten.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: leaseOrDefault(lockTimeout), ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

const keyClause = `user_id = $1 AND idem_key = $2 AND operation = $3 AND method = $4`

func (s *PostgresStore) Reserve(ctx context.Context, key Key, hash string) (Record, bool, error) {
	now := s.now()
	if s.ttl > 0 {
		if _, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE `+keyClause+` AND created_at < $5`,
			key.Caller, key.Key, key.Operation, key.Method, now.Add(-s.ttl)); err != nil {
			return Record{}, false, fmt.Errorf("expire idempotency key: %w", err)
		}
	}

	// A concurrent Release can delete the row between the insert and the read,
	// so the sequence is retried a few times.
	for attempt := 0; attempt < 3; attempt++ {
		var id string
		err := s.db.QueryRow(ctx, `INSERT INTO idempotency_keys
            (id, user_id, idem_key, operation, method, request_hash, created_at, updated_at)
            VALUES ($5, $1, $2, $3, $4, $6, $7, $7)
            ON CONFLICT (user_id, idem_key, operation, method) DO NOTHING
            RETURNING id`,
			key.Caller, key.Key, key.Operation, key.Method, ids.New(ids.Idempotency), hash, now).Scan(&id)
		if err == nil {
			return Record{Key: key, RequestHash: hash, CreatedAt: now, UpdatedAt: now}, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Record{}, false, fmt.Errorf("reserve idempotency key: %w", err)
		}

		tag, err := s.db.Exec(ctx, `UPDATE idempotency_keys SET updated_at = $5
            WHERE `+keyClause+` AND response_status IS NULL AND request_hash = $6 AND updated_at < $7`,
			key.Caller, key.Key, key.Operation, key.Method, now, hash, now.Add(-s.lockTimeout))
		if err != nil {
			return Record{}, false, fmt.Errorf("take over idempotency key: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return Record{Key: key, RequestHash: hash, CreatedAt: now, UpdatedAt: now}, true, nil
		}

		rec, found, err := s.load(ctx, key)
		if err != nil {
			return Record{}, false, err
		}
		if found {
			return rec, false, nil
		}
	}
	return Record{}, false, fmt.Errorf("reserve idempotency key: record kept disappearing")
}

func (s *PostgresStore) load(ctx context.Context, key Key) (Record, bool, error) {
	rec := Record{Key: key}
	var (
		status      *int
		contentType *string
		body        []byte
	)
	err := s.db.QueryRow(ctx, `SELECT request_hash, response_status, response_content_type, response_body,
        created_at, updated_at FROM idempotency_keys WHERE `+keyClause,
		key.Caller, key.Key, key.Operation, key.Method).Scan(&rec.RequestHash, &status, &contentType, &body,
		&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load idempotency key: %w", err)
	}
	if status != nil {
		rec.Response = &Response{Status: *status, Body: body}
		if contentType != nil {
			rec.Response.ContentType = *contentType
		}
	}
	return rec, true, nil
}

func (s *PostgresStore) Finalize(ctx context.Context, key Key, resp Response) error {
	_, err := s.db.Exec(ctx, `UPDATE idempotency_keys
        SET response_status = $5, response_content_type = $6, response_body = $7, updated_at = $8
        WHERE `+keyClause+` AND response_status IS NULL`,
		key.Caller, key.Key, key.Operation, key.Method, resp.Status, resp.ContentType, resp.Body, s.now())
	if err != nil {
		return fmt.Errorf("finalize idempotency key: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key Key) error {
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE `+keyClause+` AND response_status IS NULL`,
		key.Caller, key.Key, key.Operation, key.Method)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
