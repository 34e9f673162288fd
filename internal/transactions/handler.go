package transactions

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/ghost-pay/ghost_pay/internal/account"
	"github.com/ghost-pay/ghost_pay/internal/apierror"
	"github.com/ghost-pay/ghost_pay/internal/ledger"
	"github.com/ghost-pay/ghost_pay/internal/middleware"
	"github.com/ghost-pay/ghost_pay/internal/money"
	"github.com/ghost-pay/ghost_pay/internal/store"
)

const (
	maxCounterpartyLen = 80
	maxNoteLen         = 160
)

// Handler exposes transaction endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Type          string            `json:"type"`
	Amount        money.Amount      `json:"amount"`
	FromAccountID string            `json:"fromAccountId"`
	ToAccountID   string            `json:"toAccountId"`
	Counterparty  string            `json:"counterparty"`
	Note          string            `json:"note"`
	Metadata      map[string]string `json:"metadata"`
}

// View is the JSON shape of a transaction.
type View struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	AmountCents   int64             `json:"amountCents"`
	Amount        string            `json:"amount"`
	FromAccountID *string           `json:"fromAccountId"`
	ToAccountID   *string           `json:"toAccountId"`
	Counterparty  *string           `json:"counterparty"`
	Note          *string           `json:"note"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
}

type entryView struct {
	ID                string    `json:"id"`
	TransactionID     string    `json:"transactionId"`
	Direction         string    `json:"direction"`
	AmountCents       int64     `json:"amountCents"`
	BalanceAfterCents int64     `json:"balanceAfterCents"`
	Memo              string    `json:"memo"`
	CreatedAt         time.Time `json:"createdAt"`
}

type balanceView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	BalanceCents int64  `json:"balanceCents"`
}

// Create posts a deposit, withdrawal, transfer or payment.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		if errors.Is(err, money.ErrInvalidAmount) || errors.Is(err, money.ErrTooPrecise) {
			return apierror.BadRequest(string(ledger.CodeInvalidAmount), err.Error())
		}
		return apierror.BadRequest("invalid_body", "request body must be JSON")
	}
	if utf8.RuneCountInString(req.Counterparty) > maxCounterpartyLen {
		return apierror.BadRequest("invalid_body", "counterparty must be at most 80 characters")
	}
	if utf8.RuneCountInString(req.Note) > maxNoteLen {
		return apierror.BadRequest("invalid_body", "note must be at most 160 characters")
	}

	res, err := h.service.Create(c.UserContext(), ledger.Request{
		OwnerID:       middleware.CallerID(c),
		Kind:          ledger.Kind(strings.ToLower(strings.TrimSpace(req.Type))),
		Amount:        req.Amount.Cents(),
		FromAccountID: strings.TrimSpace(req.FromAccountID),
		ToAccountID:   strings.TrimSpace(req.ToAccountID),
		Counterparty:  req.Counterparty,
		Note:          req.Note,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return mapError(err)
	}

	balances := make([]balanceView, 0, 2)
	for _, acc := range []*ledger.Account{res.From, res.To} {
		if acc != nil {
			balances = append(balances, balanceView{ID: acc.ID, Name: acc.Name, Currency: acc.Currency, BalanceCents: acc.Balance})
		}
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction": viewOf(res.Transaction),
		"accounts":    balances,
	})
}

// List returns recent transactions, optionally for one account.
func (h *Handler) List(c *fiber.Ctx) error {
	txns, err := h.service.List(c.UserContext(), middleware.CallerID(c), ledger.TransactionFilter{
		AccountID: c.Query("accountId"),
		Limit:     c.QueryInt("limit"),
	})
	if err != nil {
		return err
	}
	views := make([]View, 0, len(txns))
	for _, txn := range txns {
		views = append(views, viewOf(txn))
	}
	return c.JSON(fiber.Map{"transactions": views})
}

// Entries returns the ledger lines of one account.
func (h *Handler) Entries(c *fiber.Ctx) error {
	entries, err := h.service.Entries(c.UserContext(), middleware.CallerID(c), c.Params("id"), c.QueryInt("limit"))
	if err != nil {
		return mapError(err)
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			ID:                e.ID,
			TransactionID:     e.TransactionID,
			Direction:         string(e.Direction),
			AmountCents:       e.Amount,
			BalanceAfterCents: e.BalanceAfter,
			Memo:              e.Memo,
			CreatedAt:         e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"entries": views})
}

type metricsView struct {
	TotalBalanceCents int64 `json:"totalBalanceCents"`
	IncomeCents       int64 `json:"incomeCents"`
	SpendCents        int64 `json:"spendCents"`
	NetCents          int64 `json:"netCents"`
	TransactionCount  int64 `json:"transactionCount"`
	PeriodDays        int   `json:"periodDays"`
}

// Overview returns the caller's dashboard: accounts, latest transactions and
// the 30 day income and spend totals.
func (h *Handler) Overview(c *fiber.Ctx) error {
	ov, err := h.service.Overview(c.UserContext(), middleware.CallerID(c))
	if err != nil {
		return err
	}
	accounts := make([]account.View, 0, len(ov.Accounts))
	for _, acc := range ov.Accounts {
		accounts = append(accounts, account.ViewOf(acc))
	}
	recent := make([]View, 0, len(ov.Recent))
	for _, txn := range ov.Recent {
		recent = append(recent, viewOf(txn))
	}
	return c.JSON(fiber.Map{
		"accounts":           accounts,
		"recentTransactions": recent,
		"metrics": metricsView{
			TotalBalanceCents: ov.Summary.TotalBalance,
			IncomeCents:       ov.Summary.Income,
			SpendCents:        ov.Summary.Spend,
			NetCents:          ov.Summary.Income - ov.Summary.Spend,
			TransactionCount:  ov.Summary.TransactionCount,
			PeriodDays:        int(ov.Window / (24 * time.Hour)),
		},
	})
}

func viewOf(txn ledger.Transaction) View {
	return View{
		ID:            txn.ID,
		Type:          string(txn.Kind),
		AmountCents:   txn.Amount,
		Amount:        money.Amount(txn.Amount).String(),
		FromAccountID: optional(txn.FromAccountID),
		ToAccountID:   optional(txn.ToAccountID),
		Counterparty:  optional(txn.Counterparty),
		Note:          optional(txn.Note),
		Metadata:      txn.Metadata,
		Status:        txn.Status,
		CreatedAt:     txn.CreatedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapError(err error) error {
	if lerr, ok := ledger.AsError(err); ok {
		switch lerr.Class() {
		case ledger.ClassValidation:
			return apierror.BadRequest(string(lerr.Code), lerr.Error())
		case ledger.ClassNotFound:
			return apierror.NotFound(string(lerr.Code), lerr.Error())
		default:
			return apierror.New(http.StatusUnprocessableEntity, string(lerr.Code), lerr.Error())
		}
	}
	switch {
	case errors.Is(err, account.ErrNotFound):
		return apierror.NotFound("account_not_found", err.Error())
	case errors.Is(err, store.ErrLockTimeout):
		return apierror.New(http.StatusServiceUnavailable, "ledger_busy", "account is busy, retry the request")
	}
	return err
}
