package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/engine"
	"github.com/congo-pay/walletledger/internal/events"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/reconcile"
	"github.com/congo-pay/walletledger/internal/wallet"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestJobRun(t *testing.T) {
	ctx := context.Background()
	wallets := wallet.NewMemoryStore()
	entries := ledger.NewInMemory()
	eng := engine.New(wallets, entries, engine.Options{})

	var ids []string
	for i := 0; i < 12; i++ {
		w, err := eng.CreateWallet(ctx, engine.CreateWalletInput{UserID: uuid.NewString(), Currency: "BRL"})
		require.NoError(t, err)
		_, err = eng.Deposit(ctx, engine.MovementInput{WalletID: w.ID, Amount: int64(100 * (i + 1)), IdempotencyKey: uuid.NewString()})
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}
	_, err := eng.Transfer(ctx, engine.TransferInput{SourceID: ids[0], DestinationID: ids[1], Amount: 50, IdempotencyKey: "t-1"})
	require.NoError(t, err)

	// balance moved behind the ledger's back
	drifted, err := wallets.Get(ctx, ids[2])
	require.NoError(t, err)
	rogue := ledger.Entry{ID: uuid.NewString(), WalletID: drifted.ID, Sequence: drifted.Version + 1,
		ResultingBalance: drifted.Balance + 999, OccurredAt: time.Now()}
	_, err = wallets.CompareAndSetBalance(ctx, drifted.ID, wallet.BalanceUpdate{
		ExpectedBalance: drifted.Balance, ExpectedVersion: drifted.Version, Pending: rogue,
	})
	require.NoError(t, err)
	require.NoError(t, wallets.ClearPending(ctx, drifted.ID, rogue.ID))

	// mid-commit wallet
	pending, err := wallets.Get(ctx, ids[3])
	require.NoError(t, err)
	inflight := ledger.Entry{ID: uuid.NewString(), WalletID: pending.ID, Sequence: pending.Version + 1,
		Operation: ledger.OperationDeposit, Amount: 1, ResultingBalance: pending.Balance + 1, OccurredAt: time.Now()}
	_, err = wallets.CompareAndSetBalance(ctx, pending.ID, wallet.BalanceUpdate{
		ExpectedBalance: pending.Balance, ExpectedVersion: pending.Version, Pending: inflight,
	})
	require.NoError(t, err)

	rec := &recorder{}
	job := reconcile.NewJob(wallets, entries, rec, logging.Discard(), 3)
	report, err := job.Run(ctx)
	require.NoError(t, err)

	require.Equal(t, 11, report.Checked)
	require.Equal(t, 1, report.Pending)
	require.Len(t, report.Drifted, 1)
	require.Equal(t, ids[2], report.Drifted[0].WalletID)
	require.Equal(t, int64(300), report.Drifted[0].Expected)
	require.Equal(t, int64(1299), report.Drifted[0].Actual)

	require.Len(t, rec.events, 1)
	require.Equal(t, events.KindBalanceDrift, rec.events[0].Kind)
	require.Equal(t, int64(300), rec.events[0].Expected)
}

func TestJobCheckPagesThroughLongLedgers(t *testing.T) {
	ctx := context.Background()
	wallets := wallet.NewMemoryStore()
	entries := ledger.NewInMemory()
	eng := engine.New(wallets, entries, engine.Options{})

	w, err := eng.CreateWallet(ctx, engine.CreateWalletInput{UserID: "u1", Currency: "BRL"})
	require.NoError(t, err)
	for i := 0; i < 1100; i++ {
		_, err := eng.Deposit(ctx, engine.MovementInput{WalletID: w.ID, Amount: 1, IdempotencyKey: uuid.NewString()})
		require.NoError(t, err)
	}
	w, err = wallets.Get(ctx, w.ID)
	require.NoError(t, err)

	res, err := reconcile.NewJob(wallets, entries, nil, logging.Discard(), 0).Check(ctx, w)
	require.NoError(t, err)
	require.True(t, res.Consistent())
	require.Equal(t, 1100, res.Entries)
	require.Equal(t, int64(1100), res.Expected)
}

func TestJobCheckIgnoresCommitsAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	wallets := wallet.NewMemoryStore()
	entries := ledger.NewInMemory()
	eng := engine.New(wallets, entries, engine.Options{})

	w, err := eng.CreateWallet(ctx, engine.CreateWalletInput{UserID: "u1", Currency: "BRL"})
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, engine.MovementInput{WalletID: w.ID, Amount: 100, IdempotencyKey: uuid.NewString()})
	require.NoError(t, err)

	page, err := wallets.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	snapshot := page[0]

	_, err = eng.Deposit(ctx, engine.MovementInput{WalletID: w.ID, Amount: 50, IdempotencyKey: uuid.NewString()})
	require.NoError(t, err)

	rec := &recorder{}
	res, err := reconcile.NewJob(wallets, entries, rec, logging.Discard(), 0).Check(ctx, snapshot)
	require.NoError(t, err)
	require.True(t, res.Consistent(), "expected %d actual %d", res.Expected, res.Actual)
	require.Equal(t, 1, res.Entries)
	require.Equal(t, int64(100), res.Expected)
	require.Empty(t, rec.events)
}

func TestJobCheckEmptyWallet(t *testing.T) {
	ctx := context.Background()
	wallets := wallet.NewMemoryStore()
	entries := ledger.NewInMemory()
	eng := engine.New(wallets, entries, engine.Options{})

	w, err := eng.CreateWallet(ctx, engine.CreateWalletInput{UserID: "u1", Currency: "BRL"})
	require.NoError(t, err)

	res, err := reconcile.NewJob(wallets, entries, nil, logging.Discard(), 0).Check(ctx, w)
	require.NoError(t, err)
	require.True(t, res.Consistent())
	require.Zero(t, res.Entries)
}
