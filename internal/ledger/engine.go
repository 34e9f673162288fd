package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ghost-pay/ghost_pay/internal/ids"
)

// Engine posts money movements against a Tx. It holds no state of its own so
// one Engine is shared by every request.
type Engine struct {
	now   func() time.Time
	newID func(prefix string) string
}

// NewEngine returns an engine using wall-clock time and random ids.
func NewEngine() *Engine {
	return &Engine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: ids.New,
	}
}

// Validate runs every check that needs no account state. Record calls it
// before taking any lock.
func Validate(req Request) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !req.Kind.Valid() {
		return newError(CodeInvalidKind, string(req.Kind))
	}
	switch req.Kind {
	case KindDeposit:
		if req.ToAccountID == "" {
			return ErrToAccountRequired
		}
	case KindWithdrawal:
		if req.FromAccountID == "" {
			return ErrFromAccountRequired
		}
	case KindPayment:
		if req.FromAccountID == "" {
			return ErrFromAccountRequired
		}
		if strings.TrimSpace(req.Counterparty) == "" {
			return ErrCounterpartyRequired
		}
	case KindTransfer:
		if req.FromAccountID == "" || req.ToAccountID == "" {
			return ErrTransferAccountsRequired
		}
		if req.FromAccountID == req.ToAccountID {
			return ErrSameAccount
		}
	}
	return req.Metadata.Validate(req.Kind)
}

type lockTarget struct {
	id       string
	notFound *Error
}

// Record validates req, locks the accounts it touches in ascending id order,
// applies the balance change and appends the transaction and its entries. Any
// returned error means the caller must abandon the unit of work.
func (e *Engine) Record(ctx context.Context, tx Tx, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}

	// Only the roles the kind uses are locked; a stray from/to is ignored.
	var targets []lockTarget
	if req.Kind.debitsSource() {
		targets = append(targets, lockTarget{id: req.FromAccountID, notFound: newError(CodeFromAccountNotFound, req.FromAccountID)})
	}
	if req.Kind.creditsDestination() {
		targets = append(targets, lockTarget{id: req.ToAccountID, notFound: newError(CodeToAccountNotFound, req.ToAccountID)})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	locked := make(map[string]Account, len(targets))
	for _, target := range targets {
		acc, ok, err := tx.LockAccount(ctx, req.OwnerID, target.id)
		if err != nil {
			return Result{}, fmt.Errorf("lock account %s: %w", target.id, err)
		}
		if !ok {
			return Result{}, target.notFound
		}
		locked[target.id] = acc
	}

	var from, to *Account
	if req.Kind.debitsSource() {
		acc := locked[req.FromAccountID]
		from = &acc
	}
	if req.Kind.creditsDestination() {
		acc := locked[req.ToAccountID]
		to = &acc
	}

	if from != nil && to != nil && from.Currency != to.Currency {
		return Result{}, newError(CodeCurrencyMismatch, fmt.Sprintf("%s vs %s", from.Currency, to.Currency))
	}
	if from != nil && from.Balance < req.Amount {
		return Result{}, ErrInsufficientFunds
	}
	if to != nil && to.Balance > math.MaxInt64-req.Amount {
		return Result{}, ErrBalanceOverflow
	}

	now := e.now()
	txn := Transaction{
		ID:           e.newID(ids.Transaction),
		OwnerID:      req.OwnerID,
		Kind:         req.Kind,
		Amount:       req.Amount,
		Counterparty: strings.TrimSpace(req.Counterparty),
		Note:         strings.TrimSpace(req.Note),
		Reference:    req.Reference,
		Metadata:     req.Metadata.clone(),
		Status:       StatusCompleted,
		CreatedAt:    now,
	}
	if from != nil {
		txn.FromAccountID = from.ID
		from.Balance -= req.Amount
		if err := tx.SetBalance(ctx, from.ID, from.Balance); err != nil {
			return Result{}, fmt.Errorf("debit %s: %w", from.ID, err)
		}
	}
	if to != nil {
		txn.ToAccountID = to.ID
		to.Balance += req.Amount
		if err := tx.SetBalance(ctx, to.ID, to.Balance); err != nil {
			return Result{}, fmt.Errorf("credit %s: %w", to.ID, err)
		}
	}

	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return Result{}, fmt.Errorf("insert transaction: %w", err)
	}

	entries := make([]Entry, 0, 2)
	if from != nil {
		entries = append(entries, e.entry(txn, *from, DirectionDebit, memoFor(txn, DirectionDebit)))
	}
	if to != nil {
		entries = append(entries, e.entry(txn, *to, DirectionCredit, memoFor(txn, DirectionCredit)))
	}
	for _, entry := range entries {
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return Result{}, fmt.Errorf("insert entry: %w", err)
		}
	}

	return Result{Transaction: txn, Entries: entries, From: from, To: to}, nil
}

func (e *Engine) entry(txn Transaction, acc Account, dir Direction, memo string) Entry {
	return Entry{
		ID:            e.newID(ids.LedgerEntry),
		OwnerID:       txn.OwnerID,
		AccountID:     acc.ID,
		TransactionID: txn.ID,
		Direction:     dir,
		Amount:        txn.Amount,
		BalanceAfter:  acc.Balance,
		Memo:          memo,
		CreatedAt:     txn.CreatedAt,
	}
}

func memoFor(txn Transaction, dir Direction) string {
	if txn.Note != "" {
		return txn.Note
	}
	switch txn.Kind {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	case KindPayment:
		return "payment to " + txn.Counterparty
	case KindTransfer:
		if dir == DirectionDebit {
			return "transfer to " + txn.ToAccountID
		}
		return "transfer from " + txn.FromAccountID
	}
	return string(txn.Kind)
}
