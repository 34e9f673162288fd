package ledger

import (
	"context"
	"time"
)

// Kind enumerates the money movements the engine knows how to post.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer"
	KindPayment    Kind = "payment"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransfer, KindPayment:
		return true
	default:
		return false
	}
}

func (k Kind) debitsSource() bool {
	return k == KindWithdrawal || k == KindPayment || k == KindTransfer
}

func (k Kind) creditsDestination() bool {
	return k == KindDeposit || k == KindTransfer
}

// Direction is the side of a ledger entry.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// StatusCompleted is the only transaction status: postings settle immediately.
const StatusCompleted = "completed"

// Account is a balance-holding account. Balance is in minor units.
type Account struct {
	ID        string
	OwnerID   string
	Name      string
	Currency  string
	Balance   int64
	Number    string
	CreatedAt time.Time
}

// Reference links a transaction to the domain object that originated it.
type Reference struct {
	Type string
	ID   string
}

// Transaction is the immutable header of a posting.
type Transaction struct {
	ID            string
	OwnerID       string
	Kind          Kind
	Amount        int64
	FromAccountID string
	ToAccountID   string
	Counterparty  string
	Note          string
	Reference     *Reference
	Metadata      Metadata
	Status        string
	CreatedAt     time.Time
}

// Entry is one append-only line of the ledger.
type Entry struct {
	ID            string
	OwnerID       string
	AccountID     string
	TransactionID string
	Direction     Direction
	Amount        int64
	BalanceAfter  int64
	Memo          string
	CreatedAt     time.Time
}

// Signed returns the entry amount as a credit-positive value.
func (e Entry) Signed() int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

// Request asks the engine to post one money movement.
type Request struct {
	OwnerID       string
	Kind          Kind
	Amount        int64
	FromAccountID string
	ToAccountID   string
	Counterparty  string
	Note          string
	Reference     *Reference
	Metadata      Metadata
}

// Result is the outcome of a committed posting. From and To hold the
// post-mutation state of the accounts the kind touches.
type Result struct {
	Transaction Transaction
	Entries     []Entry
	From        *Account
	To          *Account
}

// Tx is the account store as seen from inside one unit of work. LockAccount
// must hold an exclusive lock on the row until the unit of work ends and
// reports false when the account does not exist for the owner.
type Tx interface {
	LockAccount(ctx context.Context, ownerID, accountID string) (Account, bool, error)
	SetBalance(ctx context.Context, accountID string, balance int64) error
	InsertTransaction(ctx context.Context, txn Transaction) error
	InsertEntry(ctx context.Context, entry Entry) error
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	AccountID string
	Limit     int
}

// Summary aggregates an owner's balances and recent flows. Income counts
// deposits and Spend counts withdrawals and payments created at or after the
// window start; TransactionCount covers all time.
type Summary struct {
	TotalBalance     int64
	Income           int64
	Spend            int64
	TransactionCount int64
}

// Reader exposes the read side of the ledger.
type Reader interface {
	Transactions(ctx context.Context, ownerID string, filter TransactionFilter) ([]Transaction, error)
	Entries(ctx context.Context, ownerID, accountID string, limit int) ([]Entry, error)
	Summary(ctx context.Context, ownerID string, since time.Time) (Summary, error)
}

const (
	defaultListLimit = 30
	maxListLimit     = 100
)

// ClampLimit applies the listing default and ceiling.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
