package account

import (
	"context"

	"github.com/ghost-pay/ghost_pay/internal/ledger"
)

type memoryRepository struct {
	store *ledger.MemoryStore
}

// NewMemoryRepository exposes the in-memory ledger's accounts, so balances
// posted through the engine show up immediately.
func NewMemoryRepository(store *ledger.MemoryStore) Repository {
	return &memoryRepository{store: store}
}

func (r *memoryRepository) Create(ctx context.Context, acc ledger.Account) error {
	return r.store.CreateAccount(ctx, acc)
}

func (r *memoryRepository) Get(ctx context.Context, ownerID, id string) (ledger.Account, bool, error) {
	acc, ok := r.store.Account(ctx, ownerID, id)
	return acc, ok, nil
}

func (r *memoryRepository) ListByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	accs := r.store.AccountsByOwner(ctx, ownerID)
	for i, j := 0, len(accs)-1; i < j; i, j = i+1, j-1 {
		accs[i], accs[j] = accs[j], accs[i]
	}
	return accs, nil
}
