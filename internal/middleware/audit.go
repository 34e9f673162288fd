package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits one structured log line per request.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

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

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := RequestIDFrom(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if caller := CallerID(c); caller != "" {
			attrs = append(attrs, slog.String("caller_id", caller))
		}
		if replay := c.GetRespHeader(ReplayHeader); replay != "" {
			attrs = append(attrs, slog.Bool("idempotent_replay", true))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			if status >= fiber.StatusInternalServerError {
				logger.Error("request failed", attrs...)
			} else {
				logger.Warn("request rejected", attrs...)
			}
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
