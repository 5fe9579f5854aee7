package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 128

	// IdempotencyKeyLocal is the Locals key holding the request's key.
	IdempotencyKeyLocal = "idempotency_key"
)

// IdempotencyKey requires an Idempotency-Key header on unsafe methods and
// exposes it through Locals. Replays are resolved by the ledger itself, so
// nothing is cached here.
func IdempotencyKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header too long")
		}
		c.Locals(IdempotencyKeyLocal, key)
		c.Set(idempotencyKeyHeader, key)
		return c.Next()
	}
}
