package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrAccountExists is returned when an account id is reused.
var ErrAccountExists = errors.New("account already exists")

type memAccount struct {
	account Account
	sem     chan struct{}
}

// MemoryStore is a concurrency-safe in-memory account store and ledger used by
// tests and local development. Per-account locks behave like row locks: they
// are held from LockAccount until Commit or Rollback.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*memAccount
	transactions []Transaction
	entries      []Entry
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*memAccount)}
}

// CreateAccount stores a new account with the balance it carries.
func (s *MemoryStore) CreateAccount(_ context.Context, acc Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acc.ID]; exists {
		return ErrAccountExists
	}
	s.accounts[acc.ID] = &memAccount{account: acc, sem: make(chan struct{}, 1)}
	return nil
}

// Account returns the committed state of an account owned by ownerID.
func (s *MemoryStore) Account(_ context.Context, ownerID, accountID string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.accounts[accountID]
	if !ok || m.account.OwnerID != ownerID {
		return Account{}, false
	}
	return m.account, true
}

// AccountsByOwner lists the owner's accounts, oldest first.
func (s *MemoryStore) AccountsByOwner(_ context.Context, ownerID string) []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, m := range s.accounts {
		if m.account.OwnerID == ownerID {
			out = append(out, m.account)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Transactions implements Reader.
func (s *MemoryStore) Transactions(_ context.Context, ownerID string, filter TransactionFilter) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := ClampLimit(filter.Limit)
	var out []Transaction
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		txn := s.transactions[i]
		if txn.OwnerID != ownerID {
			continue
		}
		if filter.AccountID != "" && txn.FromAccountID != filter.AccountID && txn.ToAccountID != filter.AccountID {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

// Entries implements Reader.
func (s *MemoryStore) Entries(_ context.Context, ownerID, accountID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = ClampLimit(limit)
	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if e.OwnerID == ownerID && e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Summary implements Reader.
func (s *MemoryStore) Summary(_ context.Context, ownerID string, since time.Time) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum Summary
	for _, m := range s.accounts {
		if m.account.OwnerID == ownerID {
			sum.TotalBalance += m.account.Balance
		}
	}
	for _, txn := range s.transactions {
		if txn.OwnerID != ownerID {
			continue
		}
		sum.TransactionCount++
		if txn.CreatedAt.Before(since) {
			continue
		}
		switch txn.Kind {
		case KindDeposit:
			sum.Income += txn.Amount
		case KindWithdrawal, KindPayment:
			sum.Spend += txn.Amount
		}
	}
	return sum, nil
}

// Begin opens a unit of work. The returned tx must be finished with Commit or
// Rollback to release the account locks it acquires.
func (s *MemoryStore) Begin() *MemoryTx {
	return &MemoryTx{
		store:    s,
		held:     make(map[string]*memAccount),
		balances: make(map[string]int64),
	}
}

// MemoryTx buffers writes until Commit.
type MemoryTx struct {
	store        *MemoryStore
	held         map[string]*memAccount
	balances     map[string]int64
	transactions []Transaction
	entries      []Entry
	done         bool
}

// LockAccount acquires the account lock, waiting until ctx is done. Locking an
// account the tx already holds returns immediately.
func (t *MemoryTx) LockAccount(ctx context.Context, ownerID, accountID string) (Account, bool, error) {
	if m, ok := t.held[accountID]; ok {
		if m.account.OwnerID != ownerID {
			return Account{}, false, nil
		}
		return t.view(m), true, nil
	}

	t.store.mu.RLock()
	m, ok := t.store.accounts[accountID]
	t.store.mu.RUnlock()
	if !ok || m.account.OwnerID != ownerID {
		return Account{}, false, nil
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return Account{}, false, ctx.Err()
	}
	t.held[accountID] = m

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.view(m), true, nil
}

func (t *MemoryTx) view(m *memAccount) Account {
	acc := m.account
	if b, ok := t.balances[acc.ID]; ok {
		acc.Balance = b
	}
	return acc
}

func (t *MemoryTx) SetBalance(_ context.Context, accountID string, balance int64) error {
	if _, ok := t.held[accountID]; !ok {
		return errors.New("account " + accountID + " is not locked")
	}
	if balance < 0 {
		return errors.New("balance of " + accountID + " would go negative")
	}
	t.balances[accountID] = balance
	return nil
}

func (t *MemoryTx) InsertTransaction(_ context.Context, txn Transaction) error {
	t.transactions = append(t.transactions, txn)
	return nil
}

func (t *MemoryTx) InsertEntry(_ context.Context, e Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

// Commit publishes the buffered writes and releases every lock.
func (t *MemoryTx) Commit() {
	t.CommitWith(nil)
}

// CommitWith is Commit with publish run while the store is still write-locked,
// so readers observe the ledger writes and whatever publish makes visible
// together or not at all.
func (t *MemoryTx) CommitWith(publish func()) {
	if t.done {
		return
	}
	t.store.mu.Lock()
	for id, balance := range t.balances {
		t.store.accounts[id].account.Balance = balance
	}
	t.store.transactions = append(t.store.transactions, t.transactions...)
	t.store.entries = append(t.store.entries, t.entries...)
	if publish != nil {
		publish()
	}
	t.store.mu.Unlock()
	t.release()
}

// Rollback discards the buffered writes and releases every lock.
func (t *MemoryTx) Rollback() {
	if t.done {
		return
	}
	t.release()
}

func (t *MemoryTx) release() {
	t.done = true
	for _, m := range t.held {
		<-m.sem
	}
	t.held = nil
}
