package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/engine"
	"github.com/congo-pay/walletledger/internal/middleware"
)

const transferLocal = "transfer_result"

type errorResponse struct {
	Error    string                 `json:"error"`
	Message  string                 `json:"message"`
	Fields   map[string]string      `json:"fields,omitempty"`
	Transfer *engine.TransferResult `json:"transfer,omitempty"`
}

// ErrorHandler renders engine errors with their HTTP status. It is meant
// for fiber.Config.ErrorHandler.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code := classify(err)
		resp := errorResponse{Error: code, Message: err.Error()}

		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			resp.Fields = verr.Fields
		}
		if res, ok := c.Locals(transferLocal).(engine.TransferResult); ok {
			resp.Transfer = &res
		}
		if engine.IsRetryable(err) && !errors.Is(err, engine.ErrTransferReversed) {
			c.Set(fiber.HeaderRetryAfter, "1")
		}
		if status >= http.StatusInternalServerError {
			requestID := middleware.RequestIDFrom(c)
			logger.Error("request failed", slog.String("path", c.Path()),
				slog.String("request_id", requestID), slog.Any("error", err))
		}
		return c.Status(status).JSON(resp)
	}
}

func classify(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, http.StatusText(fe.Code)
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrTransferReversed):
		return http.StatusConflict, "transfer_reversed"
	case errors.Is(err, engine.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, engine.ErrWalletInactive):
		return http.StatusConflict, "wallet_inactive"
	case errors.Is(err, engine.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, engine.ErrConcurrency):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, engine.ErrInconsistency):
		return http.StatusInternalServerError, "wallet_inconsistent"
	case errors.Is(err, engine.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
