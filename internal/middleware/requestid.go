package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128

	// RequestIDLocal is the Locals key holding the request id.
	RequestIDLocal = "request_id"
)

// RequestID tags each request with an id, reusing the caller's X-Request-ID
// when it is usable, and echoes it on the response.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLen {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(RequestIDLocal, reqID)
		return c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, if any.
func RequestIDFrom(c *fiber.Ctx) string {
	reqID, _ := c.Locals(RequestIDLocal).(string)
	return reqID
}
