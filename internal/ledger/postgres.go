package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `id, wallet_id, sequence, idempotency_key, transfer_id, operation,
        amount, resulting_balance, reversal, metadata, occurred_at`

// PostgresStore persists ledger entries in the ledger_entries table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts the entry. Unique violations map to ErrDuplicateEntry.
func (s *PostgresStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("entry id: %w", err)
	}
	walletID, err := uuid.Parse(entry.WalletID)
	if err != nil {
		return Entry{}, fmt.Errorf("wallet id: %w", err)
	}
	transferID, err := nullableUUID(entry.TransferID)
	if err != nil {
		return Entry{}, fmt.Errorf("transfer id: %w", err)
	}

	_, err = s.db.Exec(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, walletID, entry.Sequence, entry.IdempotencyKey, transferID, string(entry.Operation),
		entry.Amount, entry.ResultingBalance, entry.Reversal, entry.Metadata, entry.OccurredAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Entry{}, ErrDuplicateEntry
		}
		return Entry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	return entry.Clone(), nil
}

// Get fetches an entry by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Entry, error) {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, ErrEntryNotFound
	}
	rows, _ := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, entryID)
	entry, err := pgx.CollectOneRow(rows, scanEntry)
	switch {
	case err == nil:
		return entry, nil
	case errors.Is(err, pgx.ErrNoRows):
		return Entry{}, ErrEntryNotFound
	default:
		return Entry{}, fmt.Errorf("get ledger entry: %w", err)
	}
}

// FindByIdempotencyKey returns every entry written under key, oldest first.
func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, key string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE idempotency_key = $1 ORDER BY occurred_at, sequence`, key)
	if err != nil {
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	return collectEntries(rows)
}

// FindByTransferID returns the legs (and reversal, if any) of a transfer.
func (s *PostgresStore) FindByTransferID(ctx context.Context, transferID string) ([]Entry, error) {
	id, err := uuid.Parse(transferID)
	if err != nil {
		return nil, fmt.Errorf("%w: transfer id %q", ErrEntryNotFound, transferID)
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE transfer_id = $1 ORDER BY occurred_at, sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("find by transfer id: %w", err)
	}
	return collectEntries(rows)
}

// ListByWallet returns a page of the wallet's entries ordered by sequence.
func (s *PostgresStore) ListByWallet(ctx context.Context, walletID string, page Page) ([]Entry, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet id %q", ErrEntryNotFound, walletID)
	}

	var (
		conds = []string{"wallet_id = $1"}
		args  = []any{id}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	order := "DESC"
	if page.Order == OldestFirst {
		order = "ASC"
	}
	if page.After > 0 {
		if page.Order == OldestFirst {
			conds = append(conds, "sequence > "+arg(page.After))
		} else {
			conds = append(conds, "sequence < "+arg(page.After))
		}
	}
	if !page.From.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(page.From.UTC()))
	}
	if !page.To.IsZero() {
		conds = append(conds, "occurred_at <= "+arg(page.To.UTC()))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY sequence ` + order
	if page.Limit > 0 {
		query += " LIMIT " + arg(page.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan ledger entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e          Entry
		id         uuid.UUID
		walletID   uuid.UUID
		transferID pgtype.UUID
		operation  string
	)
	err := row.Scan(&id, &walletID, &e.Sequence, &e.IdempotencyKey, &transferID, &operation,
		&e.Amount, &e.ResultingBalance, &e.Reversal, &e.Metadata, &e.OccurredAt)
	if err != nil {
		return Entry{}, err
	}
	e.ID = id.String()
	e.WalletID = walletID.String()
	if transferID.Valid {
		e.TransferID = uuid.UUID(transferID.Bytes).String()
	}
	e.Operation = Operation(operation)
	e.OccurredAt = e.OccurredAt.UTC()
	return e, nil
}

func nullableUUID(s string) (pgtype.UUID, error) {
	if s == "" {
		return pgtype.UUID{}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: id, Valid: true}, nil
}
