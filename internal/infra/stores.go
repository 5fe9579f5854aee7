package infra

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// NewStores returns the Postgres stores when db is set and in-memory stores
// otherwise.
func NewStores(db *pgxpool.Pool) (wallet.Store, ledger.Store) {
	if db == nil {
		return wallet.NewMemoryStore(), ledger.NewInMemory()
	}
	return wallet.NewPostgresStore(db), ledger.NewPostgresStore(db)
}
