package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ghost-pay/ghost_pay/internal/account"
	"github.com/ghost-pay/ghost_pay/internal/transactions"
)

// RegisterAccountRoutes wires account endpoints. Opening an account runs
// behind the rate limiter and the idempotency guard.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler, tx *transactions.Handler, limit, guard fiber.Handler) {
	r.Get("/accounts", h.List)
	r.Post("/accounts", limit, guard, h.Create)
	r.Get("/accounts/:id", h.Get)
	r.Get("/accounts/:id/entries", tx.Entries)
}
