package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/ledger"
)

func chain(ops ...any) []ledger.Entry {
	var (
		out     []ledger.Entry
		balance int64
	)
	for i := 0; i < len(ops); i += 2 {
		op, amount := ops[i].(ledger.Operation), int64(ops[i+1].(int))
		balance += op.Signed(amount)
		out = append(out, ledger.Entry{
			Sequence: int64(len(out) + 1), Operation: op, Amount: amount, ResultingBalance: balance,
		})
	}
	return out
}

func TestProject(t *testing.T) {
	require.Zero(t, Project(nil))
	require.Equal(t, int64(250), Project(chain(
		ledger.OperationDeposit, 500,
		ledger.OperationWithdraw, 100,
		ledger.OperationTransferOut, 200,
		ledger.OperationTransferIn, 50,
	)))
}

func TestVerify(t *testing.T) {
	good := chain(ledger.OperationDeposit, 500, ledger.OperationWithdraw, 100)

	gap := chain(ledger.OperationDeposit, 500, ledger.OperationWithdraw, 100)
	gap[1].Sequence = 3

	wrongRunning := chain(ledger.OperationDeposit, 500, ledger.OperationWithdraw, 100)
	wrongRunning[1].ResultingBalance = 450

	tests := []struct {
		name     string
		stored   int64
		entries  []ledger.Entry
		status   Status
		brokenAt int64
	}{
		{"empty wallet", 0, nil, StatusConsistent, 0},
		{"consistent", 400, good, StatusConsistent, 0},
		{"balance advanced without entry", 900, good, StatusDrift, 0},
		{"sequence gap", 400, gap, StatusDrift, 3},
		{"running balance mismatch", 400, wrongRunning, StatusDrift, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Verify("w1", tt.stored, tt.entries)
			require.Equal(t, tt.status, res.Status)
			require.Equal(t, tt.brokenAt, res.BrokenAt)
			require.Equal(t, tt.stored, res.Actual)
			require.Equal(t, Project(tt.entries), res.Expected)
		})
	}
}
