package engine

import (
	"errors"
	"fmt"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/wallet"
)

var (
	// ErrNotFound indicates an unknown wallet id.
	ErrNotFound = errors.New("wallet not found")

	// ErrConflict covers duplicate wallets for a (user, currency) pair,
	// idempotency keys reused for a different operation and closing a wallet
	// that still holds funds.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientFunds is a terminal business rejection; retrying the same
	// request cannot succeed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConcurrency reports contention that outlasted the bounded internal
	// retries, or a caller that gave up waiting for a wallet. Retryable.
	ErrConcurrency = errors.New("wallet busy, retry later")

	// ErrInconsistency reports a wallet whose balance and ledger could not be
	// reconciled. The wallet refuses operations until repaired.
	ErrInconsistency = errors.New("wallet ledger inconsistency")

	// ErrInvalidArgument reports a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrWalletInactive rejects mutations on FROZEN or CLOSED wallets.
	ErrWalletInactive = errors.New("wallet is not active")

	// ErrTransferReversed reports a transfer whose debit was compensated by a
	// reversal entry after the credit leg failed.
	ErrTransferReversed = errors.New("transfer reversed")

	// ErrUnavailable wraps unexpected storage failures. Retryable.
	ErrUnavailable = errors.New("ledger storage unavailable")
)

// InconsistencyError carries the wallet an operator must look at. Applied
// is true when the entry's balance change is already in the wallet record
// and only the ledger append is outstanding.
type InconsistencyError struct {
	WalletID string
	EntryID  string
	Detail   string
	Applied  bool
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s: wallet %s entry %s: %s", ErrInconsistency, e.WalletID, e.EntryID, e.Detail)
}

// Is makes errors.Is(err, ErrInconsistency) match.
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInconsistency
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency) || errors.Is(err, ErrUnavailable)
}

// translate maps wallet store failures onto the engine taxonomy. Unknown
// errors are flattened with %v so store types never reach callers.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wallet.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, wallet.ErrDuplicate):
		return fmt.Errorf("%w: %s", ErrConflict, wallet.ErrDuplicate.Error())
	case errors.Is(err, wallet.ErrStaleState):
		return ErrConcurrency
	case errors.Is(err, wallet.ErrHalted):
		return fmt.Errorf("%w: %s", ErrInconsistency, wallet.ErrHalted.Error())
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// translateLedger maps ledger store read failures.
func translateLedger(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrEntryNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
