package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ghost-pay/ghost_pay/internal/apierror"
	"github.com/ghost-pay/ghost_pay/internal/ledger"
	"github.com/ghost-pay/ghost_pay/internal/middleware"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// View is the JSON shape of an account.
type View struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Currency      string    `json:"currency"`
	BalanceCents  int64     `json:"balanceCents"`
	AccountNumber string    `json:"accountNumber"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ViewOf renders an account.
func ViewOf(acc ledger.Account) View {
	return View{
		ID:            acc.ID,
		Name:          acc.Name,
		Currency:      acc.Currency,
		BalanceCents:  acc.Balance,
		AccountNumber: acc.Number,
		CreatedAt:     acc.CreatedAt,
	}
}

// Create opens an account for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return apierror.BadRequest("invalid_body", "request body must be JSON")
	}
	acc, err := h.service.Open(c.UserContext(), OpenInput{
		OwnerID:  middleware.CallerID(c),
		Name:     req.Name,
		Currency: req.Currency,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"account": ViewOf(acc)})
}

func (h *Handler) List(c *fiber.Ctx) error {
	accs, err := h.service.List(c.UserContext(), middleware.CallerID(c))
	if err != nil {
		return err
	}
	views := make([]View, 0, len(accs))
	for _, acc := range accs {
		views = append(views, ViewOf(acc))
	}
	return c.JSON(fiber.Map{"accounts": views})
}

func (h *Handler) Get(c *fiber.Ctx) error {
	acc, err := h.service.Get(c.UserContext(), middleware.CallerID(c), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"account": ViewOf(acc)})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidName):
		return apierror.BadRequest("invalid_name", err.Error())
	case errors.Is(err, ErrInvalidCurrency):
		return apierror.BadRequest("invalid_currency", err.Error())
	case errors.Is(err, ErrNotFound):
		return apierror.NotFound("account_not_found", err.Error())
	}
	return err
}
