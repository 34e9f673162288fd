package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ghost-pay/ghost_pay/internal/transactions"
)

// RegisterTransactionRoutes wires ledger posting endpoints and the dashboard
// overview.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler, limit, guard fiber.Handler) {
	r.Get("/overview", h.Overview)
	r.Get("/transactions", h.List)
	r.Post("/transactions", limit, guard, h.Create)
}
