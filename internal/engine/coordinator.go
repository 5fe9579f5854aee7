package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/events"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/lock"
	"github.com/congo-pay/walletledger/internal/wallet"
)

const (
	defaultCommitAttempts = 5
	defaultAppendAttempts = 3
)

// leg describes one balance change to commit on one wallet.
type leg struct {
	Operation  ledger.Operation
	Amount     int64
	Key        string
	TransferID string
	Reversal   bool
	Metadata   map[string]string
}

// Coordinator serializes mutations per wallet and commits each one as a
// compare-and-set on the wallet followed by a ledger append. The CAS stores
// the entry as the wallet's pending record, so an interrupted append is
// finished by the next caller that touches the wallet.
type Coordinator struct {
	wallets   wallet.Store
	entries   ledger.Store
	locker    lock.Locker
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	commitAttempts int
	appendAttempts int
}

// NewCoordinator wires the coordinator. Zero-value options fall back to an
// in-process lock table, no event publishing and a discarding logger.
func NewCoordinator(wallets wallet.Store, entries ledger.Store, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		wallets:        wallets,
		entries:        entries,
		locker:         opts.Locker,
		publisher:      opts.Publisher,
		logger:         opts.Logger,
		now:            opts.Clock,
		commitAttempts: opts.CommitAttempts,
		appendAttempts: opts.AppendAttempts,
	}
}

// acquire locks the wallets in ascending id order and returns a release
// that unlocks them in reverse. Waiting honors ctx.
func (c *Coordinator) acquire(ctx context.Context, ids ...string) (func(), error) {
	ordered := append([]string(nil), ids...)
	sort.Strings(ordered)

	held := make([]lock.Unlock, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for i, id := range ordered {
		if i > 0 && ordered[i-1] == id {
			continue
		}
		unlock, err := c.locker.Lock(ctx, "wallet:"+id)
		if err != nil {
			release()
			if errors.Is(err, lock.ErrNotAcquired) {
				return nil, fmt.Errorf("%w: waiting for wallet %s: %w", ErrConcurrency, id, err)
			}
			return nil, fmt.Errorf("%w: lock wallet %s: %v", ErrUnavailable, id, err)
		}
		held = append(held, unlock)
	}
	return release, nil
}

// load reads a wallet and repairs a pending entry left by an interrupted
// commit. Callers must hold the wallet's lock.
func (c *Coordinator) load(ctx context.Context, id string) (wallet.Wallet, error) {
	w, err := c.wallets.Get(ctx, id)
	if err != nil {
		return wallet.Wallet{}, translate(err)
	}
	if w.HaltReason != "" {
		return wallet.Wallet{}, &InconsistencyError{WalletID: id, Detail: "wallet halted: " + w.HaltReason}
	}
	if w.Pending != nil {
		return c.repair(ctx, w)
	}
	return w, nil
}

// repair completes the append of w's pending entry and clears the record.
func (c *Coordinator) repair(ctx context.Context, w wallet.Wallet) (wallet.Wallet, error) {
	p := w.Pending.Clone()
	logger := c.logger.With(
		slog.String("wallet_id", w.ID),
		slog.String("entry_id", p.ID),
		slog.String("idempotency_key", p.IdempotencyKey),
	)
	logger.Warn("repairing pending ledger entry", slog.Int64("sequence", p.Sequence))

	if p.WalletID != w.ID || p.Sequence != w.Version || p.ResultingBalance != w.Balance {
		return wallet.Wallet{}, c.fail(ctx, w.ID, p, true,
			fmt.Sprintf("pending entry (seq %d, balance %d) does not match wallet (version %d, balance %d)",
				p.Sequence, p.ResultingBalance, w.Version, w.Balance))
	}
	if err := c.appendEntry(ctx, p); err != nil {
		return wallet.Wallet{}, c.fail(ctx, w.ID, p, true, fmt.Sprintf("repair append failed: %v", err))
	}
	if err := c.wallets.ClearPending(ctx, w.ID, p.ID); err != nil {
		return wallet.Wallet{}, translate(err)
	}
	c.publish(ctx, committedEvent(p))
	logger.Info("pending ledger entry repaired")

	w.Pending = nil
	return w, nil
}

// commit applies l to w: CAS the balance with the entry as pending record,
// append the entry, clear the record. A stale CAS reloads and retries up to
// commitAttempts times. The first attempt uses w as given.
func (c *Coordinator) commit(ctx context.Context, w wallet.Wallet, l leg) (ledger.Entry, error) {
	for attempt := 1; attempt <= c.commitAttempts; attempt++ {
		if attempt > 1 {
			var err error
			if w, err = c.load(ctx, w.ID); err != nil {
				return ledger.Entry{}, err
			}
		}
		if w.Status != wallet.StatusActive && !l.Reversal {
			return ledger.Entry{}, fmt.Errorf("%w: wallet %s is %s", ErrWalletInactive, w.ID, w.Status)
		}

		next := w.Balance + l.Operation.Signed(l.Amount)
		if next < 0 {
			return ledger.Entry{}, fmt.Errorf("%w: wallet %s balance %d, requested %d",
				ErrInsufficientFunds, w.ID, w.Balance, l.Amount)
		}
		if l.Operation.Credit() && next < w.Balance {
			return ledger.Entry{}, fmt.Errorf("%w: balance overflow", ErrInvalidArgument)
		}

		occurredAt, err := c.occurredAt(ctx, w)
		if err != nil {
			return ledger.Entry{}, err
		}
		entry := ledger.Entry{
			ID:               uuid.NewString(),
			WalletID:         w.ID,
			Sequence:         w.Version + 1,
			IdempotencyKey:   l.Key,
			TransferID:       l.TransferID,
			Operation:        l.Operation,
			Amount:           l.Amount,
			ResultingBalance: next,
			Reversal:         l.Reversal,
			Metadata:         cloneMetadata(l.Metadata),
			OccurredAt:       occurredAt,
		}

		_, err = c.wallets.CompareAndSetBalance(ctx, w.ID, wallet.BalanceUpdate{
			ExpectedBalance: w.Balance,
			ExpectedVersion: w.Version,
			Pending:         entry,
		})
		if errors.Is(err, wallet.ErrHalted) {
			return ledger.Entry{}, &InconsistencyError{WalletID: w.ID, Detail: "wallet halted by another process"}
		}
		if errors.Is(err, wallet.ErrStaleState) {
			c.logger.Debug("stale wallet state, retrying",
				slog.String("wallet_id", w.ID), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return ledger.Entry{}, translate(err)
		}
		return c.settle(ctx, entry)
	}
	return ledger.Entry{}, fmt.Errorf("%w: wallet %s changed on %d consecutive attempts",
		ErrConcurrency, w.ID, c.commitAttempts)
}

// settle makes a CAS-applied entry durable. Past this point the operation is
// never abandoned: a failed append leaves the pending record in place and the
// wallet refuses work until a repair succeeds.
func (c *Coordinator) settle(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	if err := c.appendEntry(ctx, entry); err != nil {
		return ledger.Entry{}, c.fail(ctx, entry.WalletID, entry, true, fmt.Sprintf("append after balance update failed: %v", err))
	}
	if err := c.wallets.ClearPending(ctx, entry.WalletID, entry.ID); err != nil {
		// the entry is durable; the next access sees it and clears the record
		c.logger.Warn("clear pending entry", slog.String("wallet_id", entry.WalletID),
			slog.String("entry_id", entry.ID), slog.Any("error", err))
	}
	c.logger.Debug("ledger entry committed",
		slog.String("wallet_id", entry.WalletID),
		slog.String("entry_id", entry.ID),
		slog.String("operation", string(entry.Operation)),
		slog.Int64("amount", entry.Amount),
		slog.Int64("balance", entry.ResultingBalance),
	)
	c.publish(ctx, committedEvent(entry))
	return entry, nil
}

// appendEntry appends with bounded retries. A duplicate of the very same
// entry id means an earlier attempt was durable despite reporting failure.
func (c *Coordinator) appendEntry(ctx context.Context, entry ledger.Entry) error {
	var err error
	for attempt := 1; attempt <= c.appendAttempts; attempt++ {
		if _, err = c.entries.Append(ctx, entry); err == nil {
			return nil
		}
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			if existing, getErr := c.entries.Get(ctx, entry.ID); getErr == nil && existing.ID == entry.ID {
				return nil
			}
			return err
		}
		c.logger.Warn("append ledger entry", slog.String("entry_id", entry.ID),
			slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return err
}

// occurredAt keeps entry timestamps non-decreasing per wallet.
func (c *Coordinator) occurredAt(ctx context.Context, w wallet.Wallet) (time.Time, error) {
	now := c.now()
	if w.Version == 0 {
		return now, nil
	}
	latest, err := c.entries.ListByWallet(ctx, w.ID, ledger.Page{Limit: 1, Order: ledger.NewestFirst})
	if err != nil {
		return time.Time{}, translateLedger(err)
	}
	if len(latest) == 1 && latest[0].OccurredAt.After(now) {
		return latest[0].OccurredAt, nil
	}
	return now, nil
}

// fail alerts an operator and returns the inconsistency error. Wallets with a
// pending record stay blocked by it; others are halted in the wallet store so
// every engine over it refuses them.
func (c *Coordinator) fail(ctx context.Context, walletID string, entry ledger.Entry, pending bool, detail string) error {
	if !pending {
		c.halt(ctx, walletID, detail)
	}
	c.logger.Error("wallet ledger inconsistency",
		slog.String("wallet_id", walletID),
		slog.String("entry_id", entry.ID),
		slog.String("idempotency_key", entry.IdempotencyKey),
		slog.String("detail", detail),
	)
	c.publish(ctx, events.Event{
		Kind:           events.KindWalletInconsistent,
		WalletID:       walletID,
		EntryID:        entry.ID,
		TransferID:     entry.TransferID,
		IdempotencyKey: entry.IdempotencyKey,
		Operation:      string(entry.Operation),
		Amount:         entry.Amount,
		Balance:        entry.ResultingBalance,
		Detail:         detail,
		At:             c.now(),
	})
	return &InconsistencyError{WalletID: walletID, EntryID: entry.ID, Detail: detail, Applied: pending}
}

func (c *Coordinator) halt(ctx context.Context, walletID, reason string) {
	if _, err := c.wallets.SetHalt(ctx, walletID, reason); err != nil {
		c.logger.Error("record wallet halt", slog.String("wallet_id", walletID), slog.Any("error", err))
	}
}

// resume lifts an operator halt under the wallet's lock.
func (c *Coordinator) resume(ctx context.Context, walletID string) (bool, error) {
	release, err := c.acquire(ctx, walletID)
	if err != nil {
		return false, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	w, err := c.wallets.Get(ctx, walletID)
	if err != nil {
		return false, translate(err)
	}
	if w.HaltReason == "" {
		return false, nil
	}
	if _, err := c.wallets.SetHalt(ctx, walletID, ""); err != nil {
		return false, translate(err)
	}
	return true, nil
}

func (c *Coordinator) publish(ctx context.Context, event events.Event) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("publish ledger event", slog.String("kind", string(event.Kind)),
			slog.String("wallet_id", event.WalletID), slog.Any("error", err))
	}
}

func committedEvent(e ledger.Entry) events.Event {
	return events.Event{
		Kind:           events.KindEntryCommitted,
		WalletID:       e.WalletID,
		EntryID:        e.ID,
		TransferID:     e.TransferID,
		IdempotencyKey: e.IdempotencyKey,
		Operation:      string(e.Operation),
		Amount:         e.Amount,
		Balance:        e.ResultingBalance,
		At:             e.OccurredAt,
	}
}

func cloneMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
