package webhook

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ghost-pay/ghost_pay/internal/apierror"
	"github.com/ghost-pay/ghost_pay/internal/middleware"
)

// Handler exposes subscription management endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a webhook HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// Create registers a subscription and returns its secret once.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return apierror.BadRequest("invalid_body", "request body must be JSON")
	}
	sub, err := h.service.Create(c.UserContext(), CreateInput{
		OwnerID: middleware.CallerID(c),
		URL:     req.URL,
		Secret:  req.Secret,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"webhook": sub})
}

func (h *Handler) List(c *fiber.Ctx) error {
	subs, err := h.service.List(c.UserContext(), middleware.CallerID(c))
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []Subscription{}
	}
	return c.JSON(fiber.Map{"webhooks": subs})
}

// Disable stops fan-out to a subscription.
func (h *Handler) Disable(c *fiber.Ctx) error {
	if err := h.service.Disable(c.UserContext(), middleware.CallerID(c), c.Params("id")); err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"status": SubscriptionDisabled})
}

// Test queues a webhook.test event.
func (h *Handler) Test(c *fiber.Ctx) error {
	ev, err := h.service.SendTest(c.UserContext(), middleware.CallerID(c), c.Params("id"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "queued", "eventId": ev.ID})
}

// Activity lists recent events and deliveries.
func (h *Handler) Activity(c *fiber.Ctx) error {
	activity, err := h.service.Activity(c.UserContext(), middleware.CallerID(c))
	if err != nil {
		return err
	}
	return c.JSON(activity)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return apierror.BadRequest("invalid_url", err.Error())
	case errors.Is(err, ErrInvalidSecret):
		return apierror.BadRequest("invalid_secret", err.Error())
	case errors.Is(err, ErrNotFound):
		return apierror.NotFound("webhook_not_found", err.Error())
	}
	return err
}
