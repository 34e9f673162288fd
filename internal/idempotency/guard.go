package idempotency

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ghost-pay/ghost_pay/internal/apierror"
	"github.com/ghost-pay/ghost_pay/internal/metrics"
	"github.com/ghost-pay/ghost_pay/internal/middleware"
)

const (
	HeaderKey       = "Idempotency-Key"
	HeaderKeyLegacy = "X-Idempotency-Key"
	maxKeyLength    = 255
	storeTimeout    = 3 * time.Second
)

// Error codes returned by the guard.
const (
	CodeKeyConflict = "idempotency_key_conflict"
	CodeInProgress  = "idempotency_in_progress"
)

// Guard wraps a mutating handler so that retries carrying the same key and
// body replay the first response instead of running the handler again. A
// request without a key runs unguarded. Responses with status >= 500 are never
// stored; the key is released so the client may retry.
func Guard(store Store, operation string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientKey := strings.TrimSpace(c.Get(HeaderKey))
		if clientKey == "" {
			clientKey = strings.TrimSpace(c.Get(HeaderKeyLegacy))
		}
		if clientKey == "" {
			return c.Next()
		}
		if len(clientKey) > maxKeyLength {
			return apierror.BadRequest("invalid_idempotency_key", "idempotency key is too long")
		}
		caller := middleware.CallerID(c)
		if caller == "" {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}

		key := Key{Caller: caller, Key: clientKey, Operation: operation, Method: strings.ToUpper(c.Method())}
		hash := HashBody(c.Body())
		log := logger.With(slog.String("operation", operation), slog.String("idempotency_key", clientKey))

		ctx, cancel := context.WithTimeout(c.UserContext(), storeTimeout)
		rec, acquired, err := store.Reserve(ctx, key, hash)
		cancel()
		if err != nil {
			log.Error("idempotency reservation failed", slog.Any("error", err))
			metrics.Idempotency.WithLabelValues(operation, "error").Inc()
			return apierror.New(http.StatusInternalServerError, "idempotency_unavailable", "idempotency store failure")
		}

		if !acquired {
			switch {
			case rec.RequestHash != hash:
				metrics.Idempotency.WithLabelValues(operation, "conflict").Inc()
				return apierror.New(http.StatusConflict, CodeKeyConflict, "idempotency key was used with a different request")
			case rec.Response == nil:
				metrics.Idempotency.WithLabelValues(operation, "in_progress").Inc()
				return apierror.New(http.StatusConflict, CodeInProgress, "a request with this idempotency key is still running")
			}
			metrics.Idempotency.WithLabelValues(operation, "replayed").Inc()
			if rec.Response.ContentType != "" {
				c.Set(fiber.HeaderContentType, rec.Response.ContentType)
			}
			c.Set(middleware.ReplayHeader, "true")
			return c.Status(rec.Response.Status).Send(rec.Response.Body)
		}

		if err := c.Next(); err != nil {
			if herr := errorHandler(c)(c, err); herr != nil {
				log.Error("error handler failed", slog.Any("error", herr))
				c.Status(http.StatusInternalServerError)
			}
		}

		// Store calls below must outlive a client that hung up.
		bg, cancelBg := context.WithTimeout(context.WithoutCancel(c.UserContext()), storeTimeout)
		defer cancelBg()

		status := c.Response().StatusCode()
		if status >= http.StatusInternalServerError {
			metrics.Idempotency.WithLabelValues(operation, "unfinalized").Inc()
			if err := store.Release(bg, key); err != nil {
				log.Warn("idempotency release failed", slog.Any("error", err))
			}
			return nil
		}

		resp := Response{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err := store.Finalize(bg, key, resp); err != nil {
			log.Error("idempotency finalize failed", slog.Any("error", err))
		}
		metrics.Idempotency.WithLabelValues(operation, "executed").Inc()
		return nil
	}
}

func errorHandler(c *fiber.Ctx) fiber.ErrorHandler {
	if h := c.App().Config().ErrorHandler; h != nil {
		return h
	}
	return fiber.DefaultErrorHandler
}
