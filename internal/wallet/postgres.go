package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/walletledger/internal/ledger"
)

const walletColumns = `id, user_id, currency, balance, version, status, pending, halt_reason, created_at, updated_at`

// PostgresStore stores wallets in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a wallet record.
func (s *PostgresStore) Create(ctx context.Context, wallet Wallet) (Wallet, error) {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet id: %w", err)
	}
	rows, _ := s.db.Query(ctx, `INSERT INTO wallets (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, $7, $8)
        RETURNING `+walletColumns,
		walletID, wallet.UserID, wallet.Currency, wallet.Balance, wallet.Version, string(wallet.Status),
		wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	created, err := pgx.CollectOneRow(rows, scanWallet)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Wallet{}, ErrDuplicate
		}
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	return created, nil
}

// Get fetches a wallet by identifier.
func (s *PostgresStore) Get(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	rows, _ := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID)
	return collectWallet(rows)
}

// FindByUser fetches the wallet a user holds in currency.
func (s *PostgresStore) FindByUser(ctx context.Context, userID, currency string) (Wallet, error) {
	rows, _ := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE user_id = $1 AND currency = $2`, userID, currency)
	return collectWallet(rows)
}

// List returns wallets ordered by id, starting after afterID.
func (s *PostgresStore) List(ctx context.Context, afterID string, limit int) ([]Wallet, error) {
	after := uuid.Nil
	if afterID != "" {
		parsed, err := uuid.Parse(afterID)
		if err != nil {
			return nil, fmt.Errorf("cursor: %w", err)
		}
		after = parsed
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	wallets, err := pgx.CollectRows(rows, scanWallet)
	if err != nil {
		return nil, fmt.Errorf("scan wallets: %w", err)
	}
	return wallets, nil
}

// CompareAndSetBalance moves the balance and stores the pending entry in a
// single conditional UPDATE.
func (s *PostgresStore) CompareAndSetBalance(ctx context.Context, id string, update BalanceUpdate) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	pending, err := json.Marshal(update.Pending)
	if err != nil {
		return Wallet{}, fmt.Errorf("encode pending entry: %w", err)
	}

	rows, _ := s.db.Query(ctx, `UPDATE wallets
        SET balance = $4, version = $5, pending = $6, updated_at = now()
        WHERE id = $1 AND balance = $2 AND version = $3
          AND pending IS NULL AND halt_reason IS NULL
        RETURNING `+walletColumns,
		walletID, update.ExpectedBalance, update.ExpectedVersion,
		update.Pending.ResultingBalance, update.Pending.Sequence, pending)
	updated, err := pgx.CollectOneRow(rows, scanWallet)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, pgx.ErrNoRows):
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return Wallet{}, getErr
		}
		if current.HaltReason != "" {
			return Wallet{}, ErrHalted
		}
		return Wallet{}, ErrStaleState
	default:
		return Wallet{}, fmt.Errorf("compare and set balance: %w", err)
	}
}

// ClearPending drops the write-ahead record once its entry is durable.
func (s *PostgresStore) ClearPending(ctx context.Context, id, entryID string) error {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, `UPDATE wallets SET pending = NULL
        WHERE id = $1 AND pending->>'id' = $2`, walletID, entryID)
	if err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	wallet, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if wallet.Pending == nil {
		return nil
	}
	return ErrPendingMismatch
}

// SetStatus updates the lifecycle status.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	rows, _ := s.db.Query(ctx, `UPDATE wallets SET status = $2, updated_at = now()
        WHERE id = $1 RETURNING `+walletColumns, walletID, string(status))
	return collectWallet(rows)
}

// SetHalt stores or clears the operator halt.
func (s *PostgresStore) SetHalt(ctx context.Context, id, reason string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	rows, _ := s.db.Query(ctx, `UPDATE wallets SET halt_reason = NULLIF($2, ''), updated_at = now()
        WHERE id = $1 RETURNING `+walletColumns, walletID, reason)
	return collectWallet(rows)
}

func collectWallet(rows pgx.Rows) (Wallet, error) {
	wallet, err := pgx.CollectOneRow(rows, scanWallet)
	switch {
	case err == nil:
		return wallet, nil
	case errors.Is(err, pgx.ErrNoRows):
		return Wallet{}, ErrNotFound
	default:
		return Wallet{}, fmt.Errorf("db error: %w", err)
	}
}

func scanWallet(row pgx.CollectableRow) (Wallet, error) {
	var (
		w       Wallet
		id      uuid.UUID
		status  string
		pending []byte
		halt    pgtype.Text
	)
	if err := row.Scan(&id, &w.UserID, &w.Currency, &w.Balance, &w.Version, &status,
		&pending, &halt, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	w.HaltReason = halt.String
	w.ID = id.String()
	w.Status = Status(status)
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	if len(pending) > 0 && string(pending) != "null" {
		var entry ledger.Entry
		if err := json.Unmarshal(pending, &entry); err != nil {
			return Wallet{}, fmt.Errorf("decode pending entry: %w", err)
		}
		w.Pending = &entry
	}
	return w, nil
}
