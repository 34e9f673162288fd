package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ghost-pay/ghost_pay/internal/webhook"
)

// RegisterWebhookRoutes wires subscription management endpoints.
func RegisterWebhookRoutes(r fiber.Router, h *webhook.Handler, limit, guard fiber.Handler) {
	r.Get("/webhooks", h.List)
	r.Get("/webhooks/events", h.Activity)
	r.Post("/webhooks", limit, guard, h.Create)
	r.Delete("/webhooks/:id", limit, h.Disable)
	r.Post("/webhooks/:id/test", limit, h.Test)
}
