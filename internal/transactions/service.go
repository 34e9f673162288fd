package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ghost-pay/ghost_pay/internal/account"
	"github.com/ghost-pay/ghost_pay/internal/ledger"
	"github.com/ghost-pay/ghost_pay/internal/metrics"
	"github.com/ghost-pay/ghost_pay/internal/store"
	"github.com/ghost-pay/ghost_pay/internal/webhook"
)

// Service posts ledger transactions and announces them through the outbox.
type Service struct {
	uow      store.UnitOfWork
	engine   *ledger.Engine
	outbox   *webhook.Outbox
	reader   ledger.Reader
	accounts account.Repository
	kicker   webhook.Kicker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the transaction service. kicker may be nil.
func NewService(uow store.UnitOfWork, engine *ledger.Engine, outbox *webhook.Outbox, reader ledger.Reader, accounts account.Repository, kicker webhook.Kicker, logger *slog.Logger) *Service {
	return &Service{
		uow:      uow,
		engine:   engine,
		outbox:   outbox,
		reader:   reader,
		accounts: accounts,
		kicker:   kicker,
		logger:   logger,
		now:      time.Now,
	}
}

// Create records req and its transaction.completed event atomically. The
// worker is kicked only after the commit so it never sees uncommitted rows.
func (s *Service) Create(ctx context.Context, req ledger.Request) (ledger.Result, error) {
	var (
		res    ledger.Result
		fanout int
	)
	err := s.uow.Do(ctx, func(tx store.Tx) error {
		var err error
		if res, err = s.engine.Record(ctx, tx, req); err != nil {
			return err
		}
		_, fanout, err = s.outbox.Emit(ctx, tx, req.OwnerID, completedEvent(res))
		return err
	})
	metrics.LedgerPostings.WithLabelValues(kindLabel(req.Kind), outcomeLabel(err)).Inc()
	if err != nil {
		if _, ok := ledger.AsError(err); !ok {
			s.logger.Error("ledger posting failed", slog.String("kind", string(req.Kind)), slog.Any("error", err))
		}
		return ledger.Result{}, err
	}

	s.logger.Info("transaction recorded",
		slog.String("transaction_id", res.Transaction.ID),
		slog.String("kind", string(res.Transaction.Kind)),
		slog.Int64("amount_cents", res.Transaction.Amount),
		slog.Int("deliveries", fanout),
	)
	if fanout > 0 && s.kicker != nil {
		s.kicker.Kick()
	}
	return res, nil
}

// List returns the owner's transactions, newest first.
func (s *Service) List(ctx context.Context, ownerID string, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	filter.Limit = ledger.ClampLimit(filter.Limit)
	return s.reader.Transactions(ctx, ownerID, filter)
}

// Entries returns the ledger lines of one of the owner's accounts.
func (s *Service) Entries(ctx context.Context, ownerID, accountID string, limit int) ([]ledger.Entry, error) {
	_, ok, err := s.accounts.Get(ctx, ownerID, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !ok {
		return nil, account.ErrNotFound
	}
	return s.reader.Entries(ctx, ownerID, accountID, ledger.ClampLimit(limit))
}

const (
	overviewWindow = 30 * 24 * time.Hour
	overviewRecent = 8
)

// Overview is the dashboard snapshot for one owner.
type Overview struct {
	Accounts []ledger.Account
	Recent   []ledger.Transaction
	Summary  ledger.Summary
	Window   time.Duration
}

// Overview gathers the owner's accounts, latest transactions and the flow
// totals of the trailing window.
func (s *Service) Overview(ctx context.Context, ownerID string) (Overview, error) {
	accounts, err := s.accounts.ListByOwner(ctx, ownerID)
	if err != nil {
		return Overview{}, fmt.Errorf("list accounts: %w", err)
	}
	recent, err := s.reader.Transactions(ctx, ownerID, ledger.TransactionFilter{Limit: overviewRecent})
	if err != nil {
		return Overview{}, fmt.Errorf("recent transactions: %w", err)
	}
	sum, err := s.reader.Summary(ctx, ownerID, s.now().Add(-overviewWindow))
	if err != nil {
		return Overview{}, fmt.Errorf("summary: %w", err)
	}
	return Overview{Accounts: accounts, Recent: recent, Summary: sum, Window: overviewWindow}, nil
}

func completedEvent(res ledger.Result) webhook.TransactionCompleted {
	txn := res.Transaction
	ev := webhook.TransactionCompleted{
		TransactionID: txn.ID,
		Kind:          string(txn.Kind),
		AmountCents:   txn.Amount,
		FromAccountID: txn.FromAccountID,
		ToAccountID:   txn.ToAccountID,
		Counterparty:  txn.Counterparty,
		Note:          txn.Note,
		Metadata:      txn.Metadata,
		Accounts:      []webhook.AccountBalance{},
		CreatedAt:     txn.CreatedAt,
	}
	for _, acc := range []*ledger.Account{res.From, res.To} {
		if acc == nil {
			continue
		}
		ev.Currency = acc.Currency
		ev.Accounts = append(ev.Accounts, webhook.AccountBalance{ID: acc.ID, Currency: acc.Currency, BalanceCents: acc.Balance})
	}
	return ev
}

func kindLabel(k ledger.Kind) string {
	if !k.Valid() {
		return "invalid"
	}
	return string(k)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if lerr, ok := ledger.AsError(err); ok {
		return string(lerr.Code)
	}
	if errors.Is(err, store.ErrLockTimeout) {
		return "lock_timeout"
	}
	return "error"
}
