package store

import (
	"context"
	"errors"
	"time"

	"github.com/ghost-pay/ghost_pay/internal/ledger"
	"github.com/ghost-pay/ghost_pay/internal/webhook"
)

// Memory pairs the in-memory ledger and webhook stores into one unit of work.
type Memory struct {
	Ledger      *ledger.MemoryStore
	Webhooks    *webhook.MemoryStore
	lockTimeout time.Duration
}

// NewMemory builds an in-memory unit of work.
func NewMemory(l *ledger.MemoryStore, w *webhook.MemoryStore, lockTimeout time.Duration) *Memory {
	return &Memory{Ledger: l, Webhooks: w, lockTimeout: lockTimeout}
}

type memTx struct {
	*ledger.MemoryTx
	*webhook.MemoryOutboxTx
	lockTimeout time.Duration
}

// LockAccount bounds the wait the way lock_timeout does in Postgres.
func (t memTx) LockAccount(ctx context.Context, ownerID, accountID string) (ledger.Account, bool, error) {
	if t.lockTimeout <= 0 {
		return t.MemoryTx.LockAccount(ctx, ownerID, accountID)
	}
	lockCtx, cancel := context.WithTimeout(ctx, t.lockTimeout)
	defer cancel()
	acc, ok, err := t.MemoryTx.LockAccount(lockCtx, ownerID, accountID)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ledger.Account{}, false, ErrLockTimeout
	}
	return acc, ok, err
}

func (m *Memory) Do(ctx context.Context, fn func(Tx) error) error {
	ltx := m.Ledger.Begin()
	defer ltx.Rollback()
	otx := m.Webhooks.Begin()

	if err := fn(memTx{MemoryTx: ltx, MemoryOutboxTx: otx, lockTimeout: m.lockTimeout}); err != nil {
		return err
	}
	// Outbox rows become visible in the same critical section as the ledger
	// writes, so no reader sees a posting without its event.
	ltx.CommitWith(otx.Commit)
	return nil
}
