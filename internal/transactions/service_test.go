package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghost-pay/ghost_pay/internal/account"
	"github.com/ghost-pay/ghost_pay/internal/apierror"
	"github.com/ghost-pay/ghost_pay/internal/idempotency"
	"github.com/ghost-pay/ghost_pay/internal/ledger"
	"github.com/ghost-pay/ghost_pay/internal/logging"
	"github.com/ghost-pay/ghost_pay/internal/metrics"
	"github.com/ghost-pay/ghost_pay/internal/middleware"
	"github.com/ghost-pay/ghost_pay/internal/store"
	"github.com/ghost-pay/ghost_pay/internal/webhook"
)

const owner = "user-1"

type kickCounter struct{ n int }

func (k *kickCounter) Kick() { k.n++ }

type fixture struct {
	ledger   *ledger.MemoryStore
	webhooks *webhook.MemoryStore
	kicks    *kickCounter
	service  *Service
}

func newFixture(t *testing.T, withSubscription bool) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   ledger.NewMemoryStore(),
		webhooks: webhook.NewMemoryStore(),
		kicks:    &kickCounter{},
	}
	uow := store.NewMemory(f.ledger, f.webhooks, time.Second)
	f.service = NewService(uow, ledger.NewEngine(), webhook.NewOutbox(), f.ledger, account.NewMemoryRepository(f.ledger), f.kicks, logging.Discard())
	if withSubscription {
		sub := webhook.Subscription{ID: "wh_1", OwnerID: owner, URL: "https://example.com/hook", Secret: "secret-123", Status: webhook.SubscriptionActive}
		if err := f.webhooks.CreateSubscription(context.Background(), sub); err != nil {
			t.Fatalf("subscription: %v", err)
		}
	}
	return f
}

func (f *fixture) seed(t *testing.T, currency string, opening int64) ledger.Account {
	t.Helper()
	acc, err := ledger.SeedAccount(context.Background(), f.ledger, owner, currency, opening)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return acc
}

func TestCreateEmitsEventAndKicks(t *testing.T) {
	f := newFixture(t, true)
	a := f.seed(t, "BRL", 100_000)
	b := f.seed(t, "BRL", 0)
	ctx := context.Background()

	res, err := f.service.Create(ctx, ledger.Request{OwnerID: owner, Kind: ledger.KindTransfer, Amount: 50_000, FromAccountID: a.ID, ToAccountID: b.ID})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.From.Balance != 50_000 || res.To.Balance != 50_000 {
		t.Fatalf("unexpected balances %d/%d", res.From.Balance, res.To.Balance)
	}
	if f.kicks.n != 1 {
		t.Fatalf("expected one kick, got %d", f.kicks.n)
	}

	events, _ := f.webhooks.RecentEvents(ctx, owner, 10)
	if len(events) != 1 || events[0].Type != webhook.EventTransactionCompleted {
		t.Fatalf("expected one transaction.completed event, got %+v", events)
	}
	var payload webhook.TransactionCompleted
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TransactionID != res.Transaction.ID || payload.Currency != "BRL" || len(payload.Accounts) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	deliveries, _ := f.webhooks.RecentDeliveries(ctx, owner, 10)
	if len(deliveries) != 1 || deliveries[0].Status != webhook.DeliveryPending {
		t.Fatalf("expected one pending delivery, got %+v", deliveries)
	}
}

func TestCreateWithoutSubscriptionsDoesNotKick(t *testing.T) {
	f := newFixture(t, false)
	a := f.seed(t, "BRL", 0)

	if _, err := f.service.Create(context.Background(), ledger.Request{OwnerID: owner, Kind: ledger.KindDeposit, Amount: 1_000, ToAccountID: a.ID}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if f.kicks.n != 0 {
		t.Fatalf("nothing to deliver, expected no kick, got %d", f.kicks.n)
	}
	events, _ := f.webhooks.RecentEvents(context.Background(), owner, 10)
	if len(events) != 1 {
		t.Fatalf("the event is recorded even without subscribers, got %d", len(events))
	}
}

func TestRejectedPostingLeavesNoEvent(t *testing.T) {
	f := newFixture(t, true)
	a := f.seed(t, "BRL", 100)
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.LedgerPostings.WithLabelValues("withdrawal", "insufficient_funds"))

	_, err := f.service.Create(ctx, ledger.Request{OwnerID: owner, Kind: ledger.KindWithdrawal, Amount: 101, FromAccountID: a.ID})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.LedgerPostings.WithLabelValues("withdrawal", "insufficient_funds")); got != before+1 {
		t.Fatalf("expected metric to increase by one, got %v -> %v", before, got)
	}
	events, _ := f.webhooks.RecentEvents(ctx, owner, 10)
	if len(events) != 0 || f.kicks.n != 0 {
		t.Fatalf("rejected posting must not emit, events=%d kicks=%d", len(events), f.kicks.n)
	}
	txns, _ := f.service.List(ctx, owner, ledger.TransactionFilter{AccountID: a.ID})
	if len(txns) != 1 {
		t.Fatalf("only the seed deposit should exist, got %d", len(txns))
	}
}

func TestEntriesRequiresOwnedAccount(t *testing.T) {
	f := newFixture(t, false)
	a := f.seed(t, "BRL", 500)

	entries, err := f.service.Entries(context.Background(), owner, a.ID, 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected the seed entry, got %d %v", len(entries), err)
	}
	if _, err := f.service.Entries(context.Background(), "user-2", a.ID, 0); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected not found for another owner, got %v", err)
	}
}

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: apierror.Handler})
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetCallerID(c, owner)
		return c.Next()
	})
	h := NewHandler(f.service)
	guard := idempotency.Guard(idempotency.NewMemoryStore(time.Minute, time.Hour), "transactions.create", logging.Discard())
	app.Post("/transactions", guard, h.Create)
	app.Get("/transactions", h.List)
	app.Get("/accounts/:id/entries", h.Entries)
	app.Get("/overview", h.Overview)
	return app
}

func post(t *testing.T, app *fiber.App, key, body string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/transactions", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	payload, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp.StatusCode, string(payload), resp.Header.Get(middleware.ReplayHeader)
}

func TestHandlerReplayPostsOnce(t *testing.T) {
	f := newFixture(t, true)
	a := f.seed(t, "BRL", 0)
	app := newTestApp(f)
	body := `{"type":"deposit","amount":"500.00","toAccountId":"` + a.ID + `"}`

	status, first, replay := post(t, app, "dep-1", body)
	if status != fiber.StatusCreated || replay != "" {
		t.Fatalf("expected fresh 201, got %d %q %s", status, replay, first)
	}
	status, second, replay := post(t, app, "dep-1", body)
	if status != fiber.StatusCreated || replay == "" {
		t.Fatalf("expected replayed 201, got %d %q", status, replay)
	}
	if first != second {
		t.Fatalf("replay must be byte-identical:\n%s\n%s", first, second)
	}

	txns, _ := f.service.List(context.Background(), owner, ledger.TransactionFilter{AccountID: a.ID})
	if len(txns) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(txns))
	}
	acc, _ := f.ledger.Account(context.Background(), owner, a.ID)
	if acc.Balance != 50_000 {
		t.Fatalf("expected balance 50000, got %d", acc.Balance)
	}
	if f.kicks.n != 1 {
		t.Fatalf("replay must not kick again, got %d kicks", f.kicks.n)
	}
}

func TestHandlerMapsLedgerErrors(t *testing.T) {
	f := newFixture(t, false)
	a := f.seed(t, "BRL", 100)
	usd := f.seed(t, "USD", 0)
	full := f.seed(t, "BRL", math.MaxInt64-10)
	app := newTestApp(f)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"too precise", `{"type":"deposit","amount":"1.234","toAccountId":"` + a.ID + `"}`, 400, "invalid_amount"},
		{"bad kind", `{"type":"refund","amount":"1","toAccountId":"` + a.ID + `"}`, 400, "invalid_kind"},
		{"missing counterparty", `{"type":"payment","amount":"1","fromAccountId":"` + a.ID + `"}`, 400, "counterparty_required"},
		{"unknown account", `{"type":"deposit","amount":"1","toAccountId":"acc_missing"}`, 404, "to_account_not_found"},
		{"insufficient", `{"type":"withdrawal","amount":"2","fromAccountId":"` + a.ID + `"}`, 422, "insufficient_funds"},
		{"same account", `{"type":"transfer","amount":"0.10","fromAccountId":"` + a.ID + `","toAccountId":"` + a.ID + `"}`, 422, "same_account"},
		{"currency", `{"type":"transfer","amount":"0.10","fromAccountId":"` + a.ID + `","toAccountId":"` + usd.ID + `"}`, 422, "currency_mismatch"},
		{"overflow", `{"type":"deposit","amount":"1","toAccountId":"` + full.ID + `"}`, 422, "balance_overflow"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body, _ := post(t, app, "", tc.body)
			var decoded apierror.Body
			_ = json.Unmarshal([]byte(body), &decoded)
			if status != tc.status || decoded.Error != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, status, body)
			}
		})
	}

	acc, _ := f.ledger.Account(context.Background(), owner, a.ID)
	if acc.Balance != 100 {
		t.Fatalf("rejected requests must not move money, balance %d", acc.Balance)
	}
}

func TestHandlerListsEntries(t *testing.T) {
	f := newFixture(t, false)
	a := f.seed(t, "BRL", 1_000)
	app := newTestApp(f)

	if status, body, _ := post(t, app, "", `{"type":"payment","amount":"2.50","fromAccountId":"`+a.ID+`","counterparty":"Coffee"}`); status != fiber.StatusCreated {
		t.Fatalf("payment: %d %s", status, body)
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/accounts/"+a.ID+"/entries?limit=1", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var decoded struct {
		Entries []entryView `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(decoded.Entries) != 1 {
		t.Fatalf("expected limit to apply, got %d entries", len(decoded.Entries))
	}
	if e := decoded.Entries[0]; e.Direction != "debit" || e.AmountCents != 250 || e.BalanceAfterCents != 750 {
		t.Fatalf("expected newest debit entry, got %+v", e)
	}
}

func TestHandlerOverview(t *testing.T) {
	f := newFixture(t, false)
	a := f.seed(t, "BRL", 10_000)
	b := f.seed(t, "BRL", 0)
	if _, err := ledger.SeedAccount(context.Background(), f.ledger, "user-2", "BRL", 99_000); err != nil {
		t.Fatalf("seed other owner: %v", err)
	}
	app := newTestApp(f)

	bodies := []string{
		`{"type":"withdrawal","amount":"10","fromAccountId":"` + a.ID + `"}`,
		`{"type":"payment","amount":"5","fromAccountId":"` + a.ID + `","counterparty":"Cafe"}`,
	}
	for i := 0; i < 8; i++ {
		bodies = append(bodies, `{"type":"transfer","amount":"1","fromAccountId":"`+a.ID+`","toAccountId":"`+b.ID+`"}`)
	}
	for _, body := range bodies {
		if status, resp, _ := post(t, app, "", body); status != fiber.StatusCreated {
			t.Fatalf("post %s: %d %s", body, status, resp)
		}
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/overview", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var decoded struct {
		Accounts           []account.View `json:"accounts"`
		RecentTransactions []View         `json:"recentTransactions"`
		Metrics            metricsView    `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK || len(decoded.Accounts) != 2 {
		t.Fatalf("expected the caller's two accounts, got %d %+v", resp.StatusCode, decoded.Accounts)
	}
	if len(decoded.RecentTransactions) != 8 || decoded.RecentTransactions[0].Type != "transfer" {
		t.Fatalf("expected the 8 newest transactions, got %+v", decoded.RecentTransactions)
	}
	want := metricsView{
		TotalBalanceCents: 8_500,
		IncomeCents:       10_000,
		SpendCents:        1_500,
		NetCents:          8_500,
		TransactionCount:  11,
		PeriodDays:        30,
	}
	if decoded.Metrics != want {
		t.Fatalf("expected metrics %+v, got %+v", want, decoded.Metrics)
	}
}

func TestOverviewWindowExcludesOldFlows(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, "BRL", 4_000)
	f.service.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	ov, err := f.service.Overview(context.Background(), owner)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.Summary.Income != 0 || ov.Summary.TransactionCount != 1 || ov.Summary.TotalBalance != 4_000 {
		t.Fatalf("deposits outside the window must not count as income, got %+v", ov.Summary)
	}
}
