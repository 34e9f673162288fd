package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit caps requests per caller (or client IP when anonymous) in a fixed
// one-minute window kept in Redis. Without Redis, or on Redis errors, it lets
// requests through.
func RateLimit(cache *redis.Client, perMinute int, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil || perMinute <= 0 {
			return c.Next()
		}
		subject := CallerID(c)
		if subject == "" {
			subject = "ip:" + c.IP()
		}
		window := time.Now().UTC().Truncate(time.Minute)
		key := "rl:mutations:" + subject + ":" + window.Format("200601021504")

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("rate limit unavailable", slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, 2*time.Minute)
		}
		if cnt > int64(perMinute) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}
