package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostpay_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghostpay_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})

	// LedgerPostings counts engine outcomes by kind. Outcome is "ok" or the
	// ledger error code.
	LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostpay_ledger_postings_total",
		Help: "Ledger postings by kind and outcome",
	}, []string{"kind", "outcome"})

	// WebhookDeliveries counts delivery attempts by outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostpay_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome",
	}, []string{"outcome"})

	WebhookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ghostpay_webhook_delivery_duration_seconds",
		Help:    "Time spent on one webhook POST",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// Idempotency counts guard decisions: executed, replayed, conflict,
	// in_progress, unfinalized and error.
	Idempotency = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostpay_idempotency_requests_total",
		Help: "Idempotency guard decisions by operation and outcome",
	}, []string{"operation", "outcome"})
)

// HTTP records request count and latency per matched route.
func HTTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		if route == "" {
			route = "unmatched"
		}
		status := c.Response().StatusCode()
		var se interface{ StatusCode() int }
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			status = fe.Code
		case errors.As(err, &se):
			status = se.StatusCode()
		case err != nil:
			status = fiber.StatusInternalServerError
		}
		httpReqTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpLatency.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
