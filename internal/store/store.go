package store

import (
	"context"
	"errors"

	"github.com/ghost-pay/ghost_pay/internal/ledger"
	"github.com/ghost-pay/ghost_pay/internal/webhook"
)

// ErrLockTimeout is returned when an account lock could not be acquired in time.
var ErrLockTimeout = errors.New("account is busy, retry later")

// Tx is one atomic unit of work spanning balances and the webhook outbox.
type Tx interface {
	ledger.Tx
	webhook.OutboxTx
}

// UnitOfWork runs fn atomically: everything fn wrote is committed when it
// returns nil and discarded otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(Tx) error) error
}
