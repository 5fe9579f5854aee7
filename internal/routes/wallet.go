package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/httpapi"
	"github.com/congo-pay/walletledger/internal/middleware"
)

// RegisterWalletRoutes wires wallet and transfer endpoints.
func RegisterWalletRoutes(r fiber.Router, h *httpapi.Handler) {
	r.Post("/wallets", h.CreateWallet)
	r.Get("/wallets", h.FindWallet)
	r.Get("/wallets/:walletId", h.GetWallet)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/ledger", h.Ledger)
	r.Post("/wallets/:walletId/freeze", h.Freeze)
	r.Post("/wallets/:walletId/unfreeze", h.Unfreeze)
	r.Post("/wallets/:walletId/close", h.Close)
	r.Post("/wallets/:walletId/resume", h.Resume)

	idem := middleware.IdempotencyKey()
	r.Post("/wallets/:walletId/deposit", idem, h.Deposit)
	r.Post("/wallets/:walletId/withdraw", idem, h.Withdraw)
	r.Post("/transfers", idem, h.Transfer)
}
