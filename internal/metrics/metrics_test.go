package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPCountsByRoute(t *testing.T) {
	app := fiber.New()
	app.Use(HTTP())
	app.Get("/accounts/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	counter := httpReqTotal.WithLabelValues("GET", "/accounts/:id", "204")
	before := testutil.ToFloat64(counter)

	resp, err := app.Test(httptest.NewRequest("GET", "/accounts/acc_1", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("expected one counted request, got %v", got)
	}
}
