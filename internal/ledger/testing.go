package ledger

import (
	"context"
	"time"

	"github.com/ghost-pay/ghost_pay/internal/ids"
)

// SeedAccount is a test helper that opens an account in the in-memory store and
// funds it through a regular deposit, so its entries still add up to the balance.
func SeedAccount(ctx context.Context, s *MemoryStore, ownerID, currency string, opening int64) (Account, error) {
	acc := Account{
		ID:        ids.New(ids.Account),
		OwnerID:   ownerID,
		Name:      "Seed " + currency,
		Currency:  currency,
		Number:    ids.AccountNumber(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateAccount(ctx, acc); err != nil {
		return Account{}, err
	}
	if opening <= 0 {
		return acc, nil
	}

	tx := s.Begin()
	defer tx.Rollback()
	res, err := NewEngine().Record(ctx, tx, Request{
		OwnerID:     ownerID,
		Kind:        KindDeposit,
		Amount:      opening,
		ToAccountID: acc.ID,
	})
	if err != nil {
		return Account{}, err
	}
	tx.Commit()
	return *res.To, nil
}
