// Package engine keeps wallet balances and their ledger consistent under
// concurrent, retried requests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/events"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/lock"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// Options tune the engine. The zero value is usable.
type Options struct {
	Locker    lock.Locker
	Publisher events.Publisher
	Logger    *slog.Logger
	Clock     func() time.Time

	// CommitAttempts bounds CAS retries per balance change.
	CommitAttempts int
	// AppendAttempts bounds ledger append retries after a CAS succeeded.
	AppendAttempts int
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, events.Event) error { return nil }

func (o Options) withDefaults() Options {
	if o.Locker == nil {
		o.Locker = lock.NewKeyedMutex()
	}
	if o.Publisher == nil {
		o.Publisher = discardPublisher{}
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.CommitAttempts <= 0 {
		o.CommitAttempts = defaultCommitAttempts
	}
	if o.AppendAttempts <= 0 {
		o.AppendAttempts = defaultAppendAttempts
	}
	return o
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// CreateWalletInput opens a wallet for a user in one currency.
type CreateWalletInput struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	Currency string `json:"currency" validate:"required,iso4217"`
}

// MovementInput is a deposit or withdrawal request.
type MovementInput struct {
	WalletID       string            `json:"wallet_id" validate:"required"`
	Amount         int64             `json:"amount" validate:"gt=0"`
	IdempotencyKey string            `json:"idempotency_key" validate:"required,max=128"`
	Metadata       map[string]string `json:"metadata" validate:"max=32,dive,keys,required,max=64,endkeys,max=512"`
}

// TransferInput moves funds between two wallets.
type TransferInput struct {
	SourceID       string            `json:"source_wallet_id" validate:"required"`
	DestinationID  string            `json:"destination_wallet_id" validate:"required,nefield=SourceID"`
	Amount         int64             `json:"amount" validate:"gt=0"`
	IdempotencyKey string            `json:"idempotency_key" validate:"required,max=128"`
	Metadata       map[string]string `json:"metadata" validate:"max=32,dive,keys,required,max=64,endkeys,max=512"`
}

// HistoryQuery selects entries of one wallet. After is an exclusive sequence
// cursor in the chosen order. From and To bound occurred_at inclusively.
type HistoryQuery struct {
	From     time.Time
	To       time.Time
	Order    ledger.Order
	After    int64
	PageSize int
}

// HistoryPage is one page of entries; NextCursor is 0 on the last page.
type HistoryPage struct {
	Entries    []ledger.Entry `json:"entries"`
	NextCursor int64          `json:"next_cursor,omitempty"`
}

// ValidationError lists the rejected request fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("%s: %s", ErrInvalidArgument, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// Engine is the public entry point. It validates requests and hands
// mutations to the Coordinator.
type Engine struct {
	wallets  wallet.Store
	entries  ledger.Store
	coord    *Coordinator
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// New wires an engine over the two stores.
func New(wallets wallet.Store, entries ledger.Store, opts Options) *Engine {
	opts = opts.withDefaults()
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonTagName)
	return &Engine{
		wallets:  wallets,
		entries:  entries,
		coord:    NewCoordinator(wallets, entries, opts),
		validate: validate,
		logger:   opts.Logger,
		now:      opts.Clock,
	}
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func (e *Engine) check(v any) error {
	err := e.validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "is required"
		case "gt":
			fields[fe.Field()] = "must be greater than " + fe.Param()
		case "max":
			fields[fe.Field()] = "must be at most " + fe.Param()
		case "iso4217":
			fields[fe.Field()] = "must be an ISO-4217 currency code"
		case "nefield":
			fields[fe.Field()] = "must differ from " + fe.Param()
		default:
			fields[fe.Field()] = "is invalid"
		}
	}
	return &ValidationError{Fields: fields}
}

// CreateWallet opens an ACTIVE wallet with a zero balance.
func (e *Engine) CreateWallet(ctx context.Context, in CreateWalletInput) (wallet.Wallet, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := e.check(in); err != nil {
		return wallet.Wallet{}, err
	}
	now := e.now()
	w, err := e.wallets.Create(ctx, wallet.Wallet{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Currency:  in.Currency,
		Status:    wallet.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return wallet.Wallet{}, translate(err)
	}
	e.logger.Info("wallet created", slog.String("wallet_id", w.ID),
		slog.String("user_id", w.UserID), slog.String("currency", w.Currency))
	return w, nil
}

// GetWallet returns the wallet with any interrupted commit repaired.
func (e *Engine) GetWallet(ctx context.Context, walletID string) (wallet.Wallet, error) {
	w, err := e.coord.Settled(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	w.Pending = nil
	return w, nil
}

// FindWallet looks a wallet up by owner and currency.
func (e *Engine) FindWallet(ctx context.Context, userID, currency string) (wallet.Wallet, error) {
	w, err := e.wallets.FindByUser(ctx, strings.TrimSpace(userID), strings.ToUpper(strings.TrimSpace(currency)))
	if err != nil {
		return wallet.Wallet{}, translate(err)
	}
	return e.GetWallet(ctx, w.ID)
}

// Deposit credits a wallet.
func (e *Engine) Deposit(ctx context.Context, in MovementInput) (ledger.Entry, error) {
	return e.move(ctx, ledger.OperationDeposit, in)
}

// Withdraw debits a wallet. It fails with ErrInsufficientFunds rather than
// overdraw.
func (e *Engine) Withdraw(ctx context.Context, in MovementInput) (ledger.Entry, error) {
	return e.move(ctx, ledger.OperationWithdraw, in)
}

func (e *Engine) move(ctx context.Context, op ledger.Operation, in MovementInput) (ledger.Entry, error) {
	if err := e.check(in); err != nil {
		return ledger.Entry{}, err
	}
	return e.coord.Apply(ctx, in.WalletID, leg{
		Operation: op,
		Amount:    in.Amount,
		Key:       in.IdempotencyKey,
		Metadata:  in.Metadata,
	})
}

// Transfer moves funds between two wallets of the same currency.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := e.check(in); err != nil {
		return TransferResult{}, err
	}
	return e.coord.Transfer(ctx, transferRequest{
		SourceID:      in.SourceID,
		DestinationID: in.DestinationID,
		Amount:        in.Amount,
		Key:           in.IdempotencyKey,
		Metadata:      in.Metadata,
	})
}

// GetBalance returns the wallet's current balance in minor units.
func (e *Engine) GetBalance(ctx context.Context, walletID string) (int64, error) {
	w, err := e.coord.Settled(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// GetBalanceAt returns the balance after the newest entry that occurred at
// or before at.
func (e *Engine) GetBalanceAt(ctx context.Context, walletID string, at time.Time) (int64, error) {
	if _, err := e.coord.Settled(ctx, walletID); err != nil {
		return 0, err
	}
	latest, err := e.entries.ListByWallet(ctx, walletID, ledger.Page{Limit: 1, Order: ledger.NewestFirst, To: at})
	if err != nil {
		return 0, translateLedger(err)
	}
	if len(latest) == 0 {
		return 0, nil
	}
	return latest[0].ResultingBalance, nil
}

// Freeze blocks mutations on a wallet.
func (e *Engine) Freeze(ctx context.Context, walletID string) (wallet.Wallet, error) {
	return e.setStatus(ctx, walletID, wallet.StatusFrozen)
}

// Unfreeze reactivates a frozen wallet.
func (e *Engine) Unfreeze(ctx context.Context, walletID string) (wallet.Wallet, error) {
	return e.setStatus(ctx, walletID, wallet.StatusActive)
}

// Close retires an empty wallet permanently.
func (e *Engine) Close(ctx context.Context, walletID string) (wallet.Wallet, error) {
	return e.setStatus(ctx, walletID, wallet.StatusClosed)
}

func (e *Engine) setStatus(ctx context.Context, walletID string, to wallet.Status) (wallet.Wallet, error) {
	w, err := e.coord.SetStatus(ctx, walletID, to)
	if err != nil {
		return wallet.Wallet{}, err
	}
	w.Pending = nil
	return w, nil
}

// ResumeWallet lifts an operator halt placed after a transfer could be
// neither credited nor reversed. It reports whether the wallet was halted.
func (e *Engine) ResumeWallet(ctx context.Context, walletID string) (bool, error) {
	resumed, err := e.coord.resume(ctx, walletID)
	if err != nil {
		return false, err
	}
	if resumed {
		e.logger.Warn("wallet resumed by operator", slog.String("wallet_id", walletID))
	}
	return resumed, nil
}
