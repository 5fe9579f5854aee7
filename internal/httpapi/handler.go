// Package httpapi exposes the wallet engine over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/engine"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/middleware"
	"github.com/congo-pay/walletledger/internal/money"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Handler exposes wallet and transfer endpoints.
type Handler struct {
	engine *engine.Engine
}

// NewHandler builds the HTTP handler.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

type createWalletRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
}

type movementRequest struct {
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

type transferRequest struct {
	SourceID      string            `json:"source_wallet_id"`
	DestinationID string            `json:"destination_wallet_id"`
	Amount        int64             `json:"amount"`
	Metadata      map[string]string `json:"metadata"`
}

type walletResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Currency       string    `json:"currency"`
	Balance        int64     `json:"balance"`
	BalanceDisplay string    `json:"balance_display"`
	Status         string    `json:"status"`
	HaltReason     string    `json:"halt_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toWalletResponse(w wallet.Wallet) walletResponse {
	return walletResponse{
		ID:             w.ID,
		UserID:         w.UserID,
		Currency:       w.Currency,
		Balance:        w.Balance,
		BalanceDisplay: money.Format(w.Balance, w.Currency),
		Status:         string(w.Status),
		HaltReason:     w.HaltReason,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

// CreateWallet opens a wallet.
func (h *Handler) CreateWallet(c *fiber.Ctx) error {
	var req createWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.engine.CreateWallet(c.UserContext(), engine.CreateWalletInput{UserID: req.UserID, Currency: req.Currency})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(w))
}

// FindWallet looks a wallet up by user_id and currency query parameters.
func (h *Handler) FindWallet(c *fiber.Ctx) error {
	userID, currency := c.Query("user_id"), c.Query("currency")
	if userID == "" || currency == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id and currency are required")
	}
	w, err := h.engine.FindWallet(c.UserContext(), userID, currency)
	if err != nil {
		return err
	}
	return c.JSON(toWalletResponse(w))
}

// GetWallet returns one wallet.
func (h *Handler) GetWallet(c *fiber.Ctx) error {
	w, err := h.engine.GetWallet(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.JSON(toWalletResponse(w))
}

// Balance returns the current balance, or the historical one when an "at"
// RFC 3339 timestamp is given.
func (h *Handler) Balance(c *fiber.Ctx) error {
	ctx := c.UserContext()
	w, err := h.engine.GetWallet(ctx, c.Params("walletId"))
	if err != nil {
		return err
	}

	balance, asOf := w.Balance, time.Now().UTC()
	if at := c.Query("at"); at != "" {
		asOf, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		}
		if balance, err = h.engine.GetBalanceAt(ctx, w.ID, asOf); err != nil {
			return err
		}
	}
	return c.JSON(fiber.Map{
		"wallet_id":       w.ID,
		"currency":        w.Currency,
		"balance":         balance,
		"balance_display": money.Format(balance, w.Currency),
		"as_of":           asOf,
	})
}

// Ledger lists entries newest first. Query: limit, cursor, order (asc|desc),
// from and to (RFC 3339).
func (h *Handler) Ledger(c *fiber.Ctx) error {
	q := engine.HistoryQuery{PageSize: c.QueryInt("limit", engine.DefaultPageSize)}
	if v := c.Query("cursor"); v != "" {
		cursor, err := strconv.ParseInt(v, 10, 64)
		if err != nil || cursor < 0 {
			return fiber.NewError(http.StatusBadRequest, "cursor must be a sequence number")
		}
		q.After = cursor
	}
	switch strings.ToLower(c.Query("order", "desc")) {
	case "desc":
		q.Order = ledger.NewestFirst
	case "asc":
		q.Order = ledger.OldestFirst
	default:
		return fiber.NewError(http.StatusBadRequest, "order must be asc or desc")
	}
	for name, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		if v := c.Query(name); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return fiber.NewError(http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
			}
			*dst = t
		}
	}

	page, err := h.engine.HistoryPage(c.UserContext(), c.Params("walletId"), q)
	if err != nil {
		return err
	}
	if page.Entries == nil {
		page.Entries = []ledger.Entry{}
	}
	return c.JSON(page)
}

// Deposit credits the wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.move(c, h.engine.Deposit)
}

// Withdraw debits the wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.move(c, h.engine.Withdraw)
}

type moveFunc func(ctx context.Context, in engine.MovementInput) (ledger.Entry, error)

func (h *Handler) move(c *fiber.Ctx, fn moveFunc) error {
	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	entry, err := fn(c.UserContext(), engine.MovementInput{
		WalletID:       c.Params("walletId"),
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c),
		Metadata:       req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(entry)
}

// Transfer moves funds between wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.Transfer(c.UserContext(), engine.TransferInput{
		SourceID:       req.SourceID,
		DestinationID:  req.DestinationID,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c),
		Metadata:       req.Metadata,
	})
	if err != nil {
		if res.TransferID != "" {
			c.Locals(transferLocal, res)
		}
		return err
	}
	return c.Status(http.StatusCreated).JSON(res)
}

// Freeze blocks mutations on a wallet.
func (h *Handler) Freeze(c *fiber.Ctx) error {
	return h.status(c, h.engine.Freeze)
}

// Unfreeze reactivates a frozen wallet.
func (h *Handler) Unfreeze(c *fiber.Ctx) error {
	return h.status(c, h.engine.Unfreeze)
}

// Close retires an empty wallet.
func (h *Handler) Close(c *fiber.Ctx) error {
	return h.status(c, h.engine.Close)
}

// Resume lifts an operator halt.
func (h *Handler) Resume(c *fiber.Ctx) error {
	id := c.Params("walletId")
	resumed, err := h.engine.ResumeWallet(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"wallet_id": id, "resumed": resumed})
}

func (h *Handler) status(c *fiber.Ctx, fn func(context.Context, string) (wallet.Wallet, error)) error {
	w, err := fn(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.JSON(toWalletResponse(w))
}

func idempotencyKey(c *fiber.Ctx) string {
	key, _ := c.Locals(middleware.IdempotencyKeyLocal).(string)
	return key
}
