package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestRecord_DepositCreditsAccount(t *testing.T) {
	s := NewMemoryStore()
	acc := mustSeed(t, s, "user-1", "BRL", 0)

	res, err := post(t, s, Request{OwnerID: "user-1", Kind: KindDeposit, Amount: 100_000, ToAccountID: acc.ID})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.To == nil || res.To.Balance != 100_000 {
		t.Fatalf("expected balance 100000, got %+v", res.To)
	}
	if res.From != nil {
		t.Fatalf("deposit must not touch a source account")
	}
	if len(res.Entries) != 1 || res.Entries[0].Direction != DirectionCredit || res.Entries[0].BalanceAfter != 100_000 {
		t.Fatalf("unexpected entries %+v", res.Entries)
	}
	if res.Transaction.Status != StatusCompleted || res.Transaction.ToAccountID != acc.ID {
		t.Fatalf("unexpected transaction %+v", res.Transaction)
	}
}

func TestRecord_TransferWritesTwoEntries(t *testing.T) {
	s := NewMemoryStore()
	a := mustSeed(t, s, "user-1", "BRL", 100_000)
	b := mustSeed(t, s, "user-1", "BRL", 0)

	res, err := post(t, s, Request{OwnerID: "user-1", Kind: KindTransfer, Amount: 50_000, FromAccountID: a.ID, ToAccountID: b.ID})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.From.Balance != 50_000 || res.To.Balance != 50_000 {
		t.Fatalf("expected 50000/50000, got %d/%d", res.From.Balance, res.To.Balance)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Direction != DirectionDebit || res.Entries[0].AccountID != a.ID {
		t.Fatalf("first entry should debit the source: %+v", res.Entries[0])
	}
	if res.Entries[1].Direction != DirectionCredit || res.Entries[1].AccountID != b.ID {
		t.Fatalf("second entry should credit the destination: %+v", res.Entries[1])
	}
	if net := res.Entries[0].Signed() + res.Entries[1].Signed(); net != 0 {
		t.Fatalf("transfer entries must net to zero, got %d", net)
	}
}

func TestRecord_InsufficientFundsLeavesNoTrace(t *testing.T) {
	s := NewMemoryStore()
	acc := mustSeed(t, s, "user-1", "BRL", 500)
	before, _ := s.Transactions(context.Background(), "user-1", TransactionFilter{})

	_, err := post(t, s, Request{OwnerID: "user-1", Kind: KindWithdrawal, Amount: 1_000, FromAccountID: acc.ID})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := balanceOf(t, s, "user-1", acc.ID); got != 500 {
		t.Fatalf("balance changed to %d", got)
	}
	after, _ := s.Transactions(context.Background(), "user-1", TransactionFilter{})
	if len(after) != len(before) {
		t.Fatalf("a failed posting must not add transactions")
	}
}

func TestRecord_CurrencyMismatch(t *testing.T) {
	s := NewMemoryStore()
	brl := mustSeed(t, s, "user-1", "BRL", 1_000)
	usd := mustSeed(t, s, "user-1", "USD", 0)

	_, err := post(t, s, Request{OwnerID: "user-1", Kind: KindTransfer, Amount: 100, FromAccountID: brl.ID, ToAccountID: usd.ID})
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	lerr, ok := AsError(err)
	if !ok || lerr.Class() != ClassRule {
		t.Fatalf("expected a business-rule error, got %v", err)
	}
}

func TestRecord_CreditPastMaxBalanceIsRejected(t *testing.T) {
	s := NewMemoryStore()
	full := mustSeed(t, s, "user-1", "BRL", math.MaxInt64-10)
	src := mustSeed(t, s, "user-1", "BRL", 1_000)

	_, err := post(t, s, Request{OwnerID: "user-1", Kind: KindDeposit, Amount: 100, ToAccountID: full.ID})
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected balance overflow, got %v", err)
	}
	if lerr, ok := AsError(err); !ok || lerr.Class() != ClassRule {
		t.Fatalf("expected a business-rule error, got %v", err)
	}

	_, err = post(t, s, Request{OwnerID: "user-1", Kind: KindTransfer, Amount: 100, FromAccountID: src.ID, ToAccountID: full.ID})
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected balance overflow on transfer, got %v", err)
	}
	if got := balanceOf(t, s, "user-1", full.ID); got != math.MaxInt64-10 {
		t.Fatalf("destination balance changed to %d", got)
	}
	if got := balanceOf(t, s, "user-1", src.ID); got != 1_000 {
		t.Fatalf("source balance changed to %d", got)
	}

	if _, err := post(t, s, Request{OwnerID: "user-1", Kind: KindDeposit, Amount: 10, ToAccountID: full.ID}); err != nil {
		t.Fatalf("deposit up to the maximum should succeed: %v", err)
	}
}

func TestRecord_ValidationRunsBeforeLocking(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"zero amount", Request{Kind: KindDeposit, ToAccountID: "acc_1"}, ErrInvalidAmount},
		{"unknown kind", Request{Kind: "refund", Amount: 1}, ErrInvalidKind},
		{"deposit without destination", Request{Kind: KindDeposit, Amount: 1}, ErrToAccountRequired},
		{"withdrawal without source", Request{Kind: KindWithdrawal, Amount: 1}, ErrFromAccountRequired},
		{"transfer missing side", Request{Kind: KindTransfer, Amount: 1, FromAccountID: "acc_1"}, ErrTransferAccountsRequired},
		{"transfer to itself", Request{Kind: KindTransfer, Amount: 1, FromAccountID: "acc_1", ToAccountID: "acc_1"}, ErrSameAccount},
		{"payment without counterparty", Request{Kind: KindPayment, Amount: 1, FromAccountID: "acc_1", Counterparty: "  "}, ErrCounterpartyRequired},
		{"unknown metadata", Request{Kind: KindDeposit, Amount: 1, ToAccountID: "acc_1", Metadata: Metadata{"merchant": "x"}}, ErrInvalidMetadata},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := &lockSpy{}
			_, err := NewEngine().Record(context.Background(), tx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tx.locks != 0 {
				t.Fatalf("validation failure must not lock, got %d locks", tx.locks)
			}
		})
	}
}

func TestRecord_UnknownAccountsReportRole(t *testing.T) {
	s := NewMemoryStore()
	acc := mustSeed(t, s, "user-1", "BRL", 1_000)

	_, err := post(t, s, Request{OwnerID: "user-1", Kind: KindTransfer, Amount: 10, FromAccountID: acc.ID, ToAccountID: "acc_missing"})
	if !errors.Is(err, ErrToAccountNotFound) {
		t.Fatalf("expected to_account_not_found, got %v", err)
	}
	_, err = post(t, s, Request{OwnerID: "user-2", Kind: KindWithdrawal, Amount: 10, FromAccountID: acc.ID})
	if !errors.Is(err, ErrFromAccountNotFound) {
		t.Fatalf("another owner's account must look missing, got %v", err)
	}
}

func TestRecord_LocksInAscendingOrder(t *testing.T) {
	tx := &lockSpy{accounts: map[string]Account{
		"acc_a": {ID: "acc_a", OwnerID: "u", Currency: "BRL", Balance: 100},
		"acc_b": {ID: "acc_b", OwnerID: "u", Currency: "BRL", Balance: 100},
	}}
	if _, err := NewEngine().Record(context.Background(), tx, Request{OwnerID: "u", Kind: KindTransfer, Amount: 10, FromAccountID: "acc_b", ToAccountID: "acc_a"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(tx.order) != 2 || tx.order[0] != "acc_a" || tx.order[1] != "acc_b" {
		t.Fatalf("expected ascending lock order, got %v", tx.order)
	}
}

func TestRecord_PaymentKeepsMetadata(t *testing.T) {
	s := NewMemoryStore()
	acc := mustSeed(t, s, "user-1", "BRL", 5_000)

	res, err := post(t, s, Request{
		OwnerID:       "user-1",
		Kind:          KindPayment,
		Amount:        1_250,
		FromAccountID: acc.ID,
		ToAccountID:   "ignored",
		Counterparty:  " Coffee Shop ",
		Reference:     &Reference{Type: "invoice", ID: "inv-9"},
		Metadata:      Metadata{"merchant": "coffee", "card_last4": "4242"},
	})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if res.To != nil || res.Transaction.ToAccountID != "" {
		t.Fatalf("payment must not credit a destination")
	}
	if res.Transaction.Counterparty != "Coffee Shop" || res.Transaction.Metadata["card_last4"] != "4242" {
		t.Fatalf("unexpected transaction %+v", res.Transaction)
	}
	if res.Entries[0].Memo != "payment to Coffee Shop" {
		t.Fatalf("unexpected memo %q", res.Entries[0].Memo)
	}
}

func TestRecord_EntriesSumToBalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := mustSeed(t, s, "user-1", "BRL", 20_000)
	b := mustSeed(t, s, "user-1", "BRL", 3_000)

	steps := []Request{
		{Kind: KindTransfer, Amount: 7_000, FromAccountID: a.ID, ToAccountID: b.ID},
		{Kind: KindWithdrawal, Amount: 1_000, FromAccountID: b.ID},
		{Kind: KindPayment, Amount: 2_500, FromAccountID: a.ID, Counterparty: "store"},
		{Kind: KindDeposit, Amount: 400, ToAccountID: a.ID},
		{Kind: KindTransfer, Amount: 99_999, FromAccountID: b.ID, ToAccountID: a.ID},
	}
	for _, req := range steps {
		req.OwnerID = "user-1"
		_, _ = post(t, s, req)
	}

	for _, id := range []string{a.ID, b.ID} {
		entries, err := s.Entries(ctx, "user-1", id, 100)
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		var sum int64
		for _, e := range entries {
			sum += e.Signed()
		}
		if got := balanceOf(t, s, "user-1", id); sum != got {
			t.Fatalf("account %s: entries sum %d, balance %d", id, sum, got)
		}
		if entries[0].BalanceAfter != balanceOf(t, s, "user-1", id) {
			t.Fatalf("latest balance_after must equal the balance")
		}
	}
}

func TestRecord_OppositeTransfersDoNotDeadlock(t *testing.T) {
	s := NewMemoryStore()
	a := mustSeed(t, s, "user-1", "BRL", 50_000)
	b := mustSeed(t, s, "user-1", "BRL", 50_000)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = post(t, s, Request{OwnerID: "user-1", Kind: KindTransfer, Amount: 100, FromAccountID: a.ID, ToAccountID: b.ID})
			}()
			go func() {
				defer wg.Done()
				_, _ = post(t, s, Request{OwnerID: "user-1", Kind: KindTransfer, Amount: 100, FromAccountID: b.ID, ToAccountID: a.ID})
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("opposite transfers deadlocked")
	}
	if total := balanceOf(t, s, "user-1", a.ID) + balanceOf(t, s, "user-1", b.ID); total != 100_000 {
		t.Fatalf("money created or destroyed, total=%d", total)
	}
}

// lockSpy records lock calls without holding any state beyond fixed accounts.
type lockSpy struct {
	accounts map[string]Account
	locks    int
	order    []string
}

func (s *lockSpy) LockAccount(_ context.Context, ownerID, id string) (Account, bool, error) {
	s.locks++
	s.order = append(s.order, id)
	acc, ok := s.accounts[id]
	return acc, ok && acc.OwnerID == ownerID, nil
}

func (s *lockSpy) SetBalance(context.Context, string, int64) error       { return nil }
func (s *lockSpy) InsertTransaction(context.Context, Transaction) error { return nil }
func (s *lockSpy) InsertEntry(context.Context, Entry) error             { return nil }
