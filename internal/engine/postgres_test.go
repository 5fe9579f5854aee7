package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/engine"
	"github.com/congo-pay/walletledger/internal/infra"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/reconcile"
	"github.com/congo-pay/walletledger/internal/testutil"
)

func TestEngineOnPostgres(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	ctx := context.Background()
	wallets, entries := infra.NewStores(pg.Pool)
	eng := engine.New(wallets, entries, engine.Options{})

	alice, err := eng.CreateWallet(ctx, engine.CreateWalletInput{UserID: "alice", Currency: "BRL"})
	require.NoError(t, err)
	bob, err := eng.CreateWallet(ctx, engine.CreateWalletInput{UserID: "bob", Currency: "BRL"})
	require.NoError(t, err)

	_, err = eng.CreateWallet(ctx, engine.CreateWalletInput{UserID: "alice", Currency: "BRL"})
	require.ErrorIs(t, err, engine.ErrConflict)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := eng.Deposit(ctx, engine.MovementInput{WalletID: alice.ID, Amount: 100, IdempotencyKey: fmt.Sprintf("dep-%d", i)}); err != nil {
				t.Errorf("deposit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	in := engine.TransferInput{SourceID: alice.ID, DestinationID: bob.ID, Amount: 750, IdempotencyKey: "t-1",
		Metadata: map[string]string{"note": "rent"}}
	res, err := eng.Transfer(ctx, in)
	require.NoError(t, err)
	again, err := eng.Transfer(ctx, in)
	require.NoError(t, err)
	require.Equal(t, res.Debit.ID, again.Debit.ID)
	require.Equal(t, res.Credit.ID, again.Credit.ID)

	_, err = eng.Withdraw(ctx, engine.MovementInput{WalletID: bob.ID, Amount: 751, IdempotencyKey: "wd-1"})
	require.ErrorIs(t, err, engine.ErrInsufficientFunds)

	balance, err := eng.GetBalance(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, int64(n*100-750), balance)

	var seqs []int64
	for e, err := range eng.History(ctx, alice.ID, engine.HistoryQuery{Order: ledger.OldestFirst, PageSize: 7}) {
		require.NoError(t, err)
		seqs = append(seqs, e.Sequence)
	}
	require.Len(t, seqs, n+1)
	require.Equal(t, int64(1), seqs[0])
	require.Equal(t, int64(n+1), seqs[n])

	report, err := reconcile.NewJob(wallets, entries, nil, logging.Discard(), 2).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Checked)
	require.Empty(t, report.Drifted)
}
