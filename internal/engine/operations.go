package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/events"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// TransferResult holds the legs of a transfer. Reversal is set only when
// the debit was compensated.
type TransferResult struct {
	TransferID string       `json:"transfer_id"`
	Debit      ledger.Entry `json:"debit"`
	Credit     ledger.Entry `json:"credit,omitzero"`
	Reversal   ledger.Entry `json:"reversal,omitzero"`
}

// Apply commits a single-wallet deposit or withdrawal. A key that already
// produced an entry for the same wallet, operation and amount returns that
// entry without touching the balance.
func (c *Coordinator) Apply(ctx context.Context, walletID string, l leg) (ledger.Entry, error) {
	if entry, ok, err := c.replaySingle(ctx, walletID, l); err != nil || ok {
		return entry, err
	}

	release, err := c.acquire(ctx, walletID)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer release()
	// ownership is reserved; finish regardless of the caller going away
	ctx = context.WithoutCancel(ctx)

	w, err := c.load(ctx, walletID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if entry, ok, err := c.replaySingle(ctx, walletID, l); err != nil || ok {
		return entry, err
	}
	return c.commit(ctx, w, l)
}

func (c *Coordinator) replaySingle(ctx context.Context, walletID string, l leg) (ledger.Entry, bool, error) {
	prior, err := c.entries.FindByIdempotencyKey(ctx, l.Key)
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(prior) == 0 {
		return ledger.Entry{}, false, nil
	}
	for _, e := range prior {
		if e.WalletID == walletID && e.Operation == l.Operation && !e.Reversal {
			if e.Amount != l.Amount {
				return ledger.Entry{}, false, fmt.Errorf("%w: idempotency key %q was used with amount %d",
					ErrConflict, l.Key, e.Amount)
			}
			return e, true, nil
		}
	}
	return ledger.Entry{}, false, fmt.Errorf("%w: idempotency key %q was used for another operation", ErrConflict, l.Key)
}

// transferRequest is the validated input of a transfer.
type transferRequest struct {
	SourceID      string
	DestinationID string
	Amount        int64
	Key           string
	Metadata      map[string]string
}

// transferState is what the ledger already holds for a transfer key.
type transferState struct {
	debit, credit, reversal *ledger.Entry
}

func (s transferState) empty() bool { return s.debit == nil }

func (s transferState) result() TransferResult {
	r := TransferResult{TransferID: s.debit.TransferID, Debit: *s.debit}
	if s.credit != nil {
		r.Credit = *s.credit
	}
	if s.reversal != nil {
		r.Reversal = *s.reversal
	}
	return r
}

// Transfer moves funds between two wallets of the same currency. Both
// wallets are locked in ascending id order. If the credit leg fails before
// touching the destination, the debit is compensated with a reversal entry
// on the source and ErrTransferReversed is returned.
func (c *Coordinator) Transfer(ctx context.Context, req transferRequest) (TransferResult, error) {
	state, err := c.transferState(ctx, req)
	if err != nil {
		return TransferResult{}, err
	}
	if res, done, err := c.finished(state); done {
		return res, err
	}

	release, err := c.acquire(ctx, req.SourceID, req.DestinationID)
	if err != nil {
		return TransferResult{}, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	src, err := c.load(ctx, req.SourceID)
	if err != nil {
		return TransferResult{}, err
	}
	dst, err := c.load(ctx, req.DestinationID)
	if err != nil {
		return TransferResult{}, err
	}

	if state, err = c.transferState(ctx, req); err != nil {
		return TransferResult{}, err
	}
	if res, done, err := c.finished(state); done {
		return res, err
	}
	if !state.empty() {
		// a previous attempt stopped between the legs
		c.logger.Warn("resuming interrupted transfer",
			slog.String("transfer_id", state.debit.TransferID),
			slog.String("idempotency_key", req.Key))
		return c.credit(ctx, req, *state.debit)
	}

	if src.Currency != dst.Currency {
		return TransferResult{}, fmt.Errorf("%w: currency mismatch %s -> %s", ErrInvalidArgument, src.Currency, dst.Currency)
	}
	if dst.Status != wallet.StatusActive {
		return TransferResult{}, fmt.Errorf("%w: wallet %s is %s", ErrWalletInactive, dst.ID, dst.Status)
	}

	debit, err := c.commit(ctx, src, leg{
		Operation:  ledger.OperationTransferOut,
		Amount:     req.Amount,
		Key:        req.Key,
		TransferID: uuid.NewString(),
		Metadata:   withCounterparty(req.Metadata, req.DestinationID),
	})
	if err != nil {
		return TransferResult{}, err
	}
	return c.credit(ctx, req, debit)
}

// finished reports whether a transfer key is already resolved.
func (c *Coordinator) finished(s transferState) (TransferResult, bool, error) {
	switch {
	case s.empty():
		return TransferResult{}, false, nil
	case s.reversal != nil:
		return s.result(), true, fmt.Errorf("%w: transfer %s", ErrTransferReversed, s.debit.TransferID)
	case s.credit != nil:
		return s.result(), true, nil
	}
	return TransferResult{}, false, nil
}

func (c *Coordinator) transferState(ctx context.Context, req transferRequest) (transferState, error) {
	prior, err := c.entries.FindByIdempotencyKey(ctx, req.Key)
	if err != nil {
		return transferState{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var s transferState
	for i := range prior {
		e := &prior[i]
		switch {
		case e.Operation == ledger.OperationTransferOut && e.WalletID == req.SourceID:
			s.debit = e
		case e.Operation == ledger.OperationTransferIn && e.WalletID == req.DestinationID && !e.Reversal:
			s.credit = e
		case e.Operation == ledger.OperationTransferIn && e.WalletID == req.SourceID && e.Reversal:
			s.reversal = e
		default:
			return transferState{}, fmt.Errorf("%w: idempotency key %q was used for another operation", ErrConflict, req.Key)
		}
	}
	if len(prior) > 0 && s.debit == nil {
		return transferState{}, fmt.Errorf("%w: idempotency key %q has no debit leg", ErrConflict, req.Key)
	}
	if s.debit != nil && s.debit.Amount != req.Amount {
		return transferState{}, fmt.Errorf("%w: idempotency key %q was used with amount %d", ErrConflict, req.Key, s.debit.Amount)
	}
	return s, nil
}

// credit commits the destination leg of a debited transfer, compensating the
// source when the destination could not be changed.
func (c *Coordinator) credit(ctx context.Context, req transferRequest, debit ledger.Entry) (TransferResult, error) {
	res := TransferResult{TransferID: debit.TransferID, Debit: debit}

	dst, err := c.load(ctx, req.DestinationID)
	if err == nil && dst.Status != wallet.StatusActive {
		err = fmt.Errorf("%w: wallet %s is %s", ErrWalletInactive, dst.ID, dst.Status)
	}
	if err == nil {
		res.Credit, err = c.commit(ctx, dst, leg{
			Operation:  ledger.OperationTransferIn,
			Amount:     req.Amount,
			Key:        req.Key,
			TransferID: debit.TransferID,
			Metadata:   withCounterparty(req.Metadata, req.SourceID),
		})
	}
	if err == nil {
		return res, nil
	}

	var inconsistent *InconsistencyError
	if errors.As(err, &inconsistent) && inconsistent.Applied && inconsistent.WalletID == req.DestinationID {
		// the credit is applied and awaits repair; reversing would pay twice
		return res, err
	}
	return c.compensate(ctx, req, debit, err)
}

func (c *Coordinator) compensate(ctx context.Context, req transferRequest, debit ledger.Entry, cause error) (TransferResult, error) {
	res := TransferResult{TransferID: debit.TransferID, Debit: debit}
	logger := c.logger.With(
		slog.String("transfer_id", debit.TransferID),
		slog.String("source_id", req.SourceID),
		slog.String("destination_id", req.DestinationID),
	)
	logger.Warn("credit leg failed, reversing debit", slog.Any("error", cause))

	src, err := c.load(ctx, req.SourceID)
	if err == nil && src.Status == wallet.StatusClosed {
		// closed after an interrupted debit; the refund must stay reachable
		logger.Warn("reopening closed source wallet as frozen to hold reversed transfer")
		src, err = c.wallets.SetStatus(ctx, src.ID, wallet.StatusFrozen)
		err = translate(err)
	}
	if err == nil {
		res.Reversal, err = c.commit(ctx, src, leg{
			Operation:  ledger.OperationTransferIn,
			Amount:     req.Amount,
			Key:        req.Key,
			TransferID: debit.TransferID,
			Reversal:   true,
			Metadata: map[string]string{
				"reversal_of": debit.ID,
				"reason":      cause.Error(),
			},
		})
	}
	if err != nil {
		var inconsistent *InconsistencyError
		if errors.As(err, &inconsistent) && inconsistent.Applied {
			return res, err
		}
		return res, c.fail(ctx, req.SourceID, debit, false,
			fmt.Sprintf("transfer %s debited but neither credited nor reversed: %v", debit.TransferID, err))
	}

	c.publish(ctx, events.Event{
		Kind:           events.KindTransferReversed,
		WalletID:       req.SourceID,
		EntryID:        res.Reversal.ID,
		TransferID:     debit.TransferID,
		IdempotencyKey: req.Key,
		Operation:      string(ledger.OperationTransferIn),
		Amount:         req.Amount,
		Balance:        res.Reversal.ResultingBalance,
		Detail:         cause.Error(),
		At:             res.Reversal.OccurredAt,
	})
	return res, fmt.Errorf("%w: transfer %s: %w", ErrTransferReversed, debit.TransferID, cause)
}

// SetStatus changes a wallet's lifecycle status under its lock. CLOSED is
// terminal and requires a zero balance.
func (c *Coordinator) SetStatus(ctx context.Context, walletID string, to wallet.Status) (wallet.Wallet, error) {
	release, err := c.acquire(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	w, err := c.load(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if w.Status == to {
		return w, nil
	}
	if w.Status == wallet.StatusClosed {
		return wallet.Wallet{}, fmt.Errorf("%w: wallet %s is closed", ErrWalletInactive, w.ID)
	}
	if to == wallet.StatusClosed && w.Balance != 0 {
		return wallet.Wallet{}, fmt.Errorf("%w: wallet %s still holds %d", ErrConflict, w.ID, w.Balance)
	}

	updated, err := c.wallets.SetStatus(ctx, walletID, to)
	if err != nil {
		return wallet.Wallet{}, translate(err)
	}
	c.logger.Info("wallet status changed", slog.String("wallet_id", walletID),
		slog.String("from", string(w.Status)), slog.String("to", string(to)))
	return updated, nil
}

// Settled returns the wallet, repairing a pending entry first so reads never
// report a balance the ledger does not yet back.
func (c *Coordinator) Settled(ctx context.Context, walletID string) (wallet.Wallet, error) {
	w, err := c.wallets.Get(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, translate(err)
	}
	if w.Pending == nil {
		return w, nil
	}

	release, err := c.acquire(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	defer release()
	return c.load(context.WithoutCancel(ctx), walletID)
}

func withCounterparty(md map[string]string, counterparty string) map[string]string {
	out := cloneMetadata(md)
	if out == nil {
		out = make(map[string]string, 1)
	}
	out["counterparty_wallet_id"] = counterparty
	return out
}
