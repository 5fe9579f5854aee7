package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit logs one record per request. Mutations carry their idempotency key
// so a retried request can be matched to the original in the logs.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if reqID := RequestIDFrom(c); reqID != "" {
			attrs = append(attrs, slog.String("request_id", reqID))
		}
		if key, _ := c.Locals(IdempotencyKeyLocal).(string); key != "" {
			attrs = append(attrs, slog.String("idempotency_key", key))
		}
		if err != nil {
			// the status is written by the error handler after this returns
			attrs = append(attrs, slog.Any("error", err))
			logger.Warn("request failed", attrs...)
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
