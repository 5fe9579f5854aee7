package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/routes"
)

type client struct {
	t   *testing.T
	srv *Server
}

func newClient(t *testing.T) *client {
	t.Helper()
	srv, err := New(routes.Deps{Cfg: config.Default(), Logger: logging.Discard()})
	require.NoError(t, err)
	return &client{t: t, srv: srv}
}

func (c *client) do(method, path, key string, body any, out any) int {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := c.srv.App().Test(req, -1)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type walletBody struct {
	ID             string `json:"id"`
	Currency       string `json:"currency"`
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
	Status         string `json:"status"`
}

type entryBody struct {
	ID               string `json:"id"`
	Sequence         int64  `json:"sequence"`
	TransferID       string `json:"transfer_id"`
	Operation        string `json:"operation"`
	Amount           int64  `json:"amount"`
	ResultingBalance int64  `json:"resulting_balance"`
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func (c *client) createWallet(userID, currency string) walletBody {
	c.t.Helper()
	var w walletBody
	status := c.do(http.MethodPost, "/api/v1/wallets", "", map[string]string{"user_id": userID, "currency": currency}, &w)
	require.Equal(c.t, http.StatusCreated, status)
	return w
}

func TestHealthz(t *testing.T) {
	c := newClient(t)
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", "", nil, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/ping", "", nil, nil))
}

func TestRequiresDatabaseOutsideDevelopment(t *testing.T) {
	cfg := config.Default()
	cfg.AppEnv = "production"
	_, err := New(routes.Deps{Cfg: cfg, Logger: logging.Discard()})
	require.Error(t, err)
}

func TestWalletFlow(t *testing.T) {
	c := newClient(t)
	alice := c.createWallet("alice", "brl")
	require.Equal(t, "BRL", alice.Currency)
	require.Equal(t, "0.00", alice.BalanceDisplay)

	var errResp errorBody
	require.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/api/v1/wallets", "",
		map[string]string{"user_id": "alice", "currency": "BRL"}, &errResp))
	require.Equal(t, "conflict", errResp.Error)

	var dep entryBody
	status := c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/deposit", "dep-1", map[string]any{"amount": 12345}, &dep)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "DEPOSIT", dep.Operation)
	require.Equal(t, int64(12345), dep.ResultingBalance)

	var replay entryBody
	status = c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/deposit", "dep-1", map[string]any{"amount": 12345}, &replay)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, dep, replay)

	require.Equal(t, http.StatusBadRequest,
		c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/deposit", "", map[string]any{"amount": 1}, nil),
		"idempotency key header is required")

	errResp = errorBody{}
	require.Equal(t, http.StatusBadRequest,
		c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/withdraw", "wd-0", map[string]any{"amount": 0}, &errResp))
	require.Contains(t, errResp.Fields, "amount")

	errResp = errorBody{}
	require.Equal(t, http.StatusUnprocessableEntity,
		c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/withdraw", "wd-1", map[string]any{"amount": 99999}, &errResp))
	require.Equal(t, "insufficient_funds", errResp.Error)

	var balance struct {
		Balance        int64  `json:"balance"`
		BalanceDisplay string `json:"balance_display"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/wallets/"+alice.ID+"/balance", "", nil, &balance))
	require.Equal(t, int64(12345), balance.Balance)
	require.Equal(t, "123.45", balance.BalanceDisplay)

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/wallets/"+alice.ID+"/balance?at=2000-01-01T00:00:00Z", "", nil, &balance))
	require.Zero(t, balance.Balance)

	var found walletBody
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/wallets?user_id=alice&currency=BRL", "", nil, &found))
	require.Equal(t, alice.ID, found.ID)

	require.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/api/v1/wallets/does-not-exist", "", nil, nil))
}

func TestTransferAndLedger(t *testing.T) {
	c := newClient(t)
	alice, bob := c.createWallet("alice", "BRL"), c.createWallet("bob", "BRL")
	require.Equal(t, http.StatusCreated,
		c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/deposit", "dep-1", map[string]any{"amount": 1000}, nil))

	transfer := map[string]any{"source_wallet_id": alice.ID, "destination_wallet_id": bob.ID, "amount": 300}
	var res struct {
		TransferID string    `json:"transfer_id"`
		Debit      entryBody `json:"debit"`
		Credit     entryBody `json:"credit"`
	}
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/api/v1/transfers", "t-1", transfer, &res))
	require.Equal(t, res.TransferID, res.Debit.TransferID)
	require.Equal(t, int64(700), res.Debit.ResultingBalance)
	require.Equal(t, int64(300), res.Credit.ResultingBalance)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated,
			c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/withdraw", "wd-"+string(rune('a'+i)), map[string]any{"amount": 10}, nil))
	}

	var page struct {
		Entries    []entryBody `json:"entries"`
		NextCursor int64       `json:"next_cursor"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/wallets/"+alice.ID+"/ledger?limit=2", "", nil, &page))
	require.Len(t, page.Entries, 2)
	require.Equal(t, int64(5), page.Entries[0].Sequence)
	require.Equal(t, int64(4), page.NextCursor)

	page.Entries, page.NextCursor = nil, 0
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/wallets/"+alice.ID+"/ledger?limit=2&cursor=4&order=desc", "", nil, &page))
	require.Equal(t, []int64{3, 2}, []int64{page.Entries[0].Sequence, page.Entries[1].Sequence})

	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/api/v1/wallets/"+alice.ID+"/ledger?order=sideways", "", nil, nil))

	var frozen walletBody
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/wallets/"+bob.ID+"/freeze", "", nil, &frozen))
	require.Equal(t, "FROZEN", frozen.Status)

	var errResp errorBody
	require.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/api/v1/transfers", "t-2", transfer, &errResp))
	require.Equal(t, "wallet_inactive", errResp.Error)

	require.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/close", "", nil, nil),
		"wallet with funds cannot close")

	var resumed struct {
		Resumed bool `json:"resumed"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v1/wallets/"+alice.ID+"/resume", "", nil, &resumed))
	require.False(t, resumed.Resumed, "wallet was not halted")
	require.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/api/v1/wallets/does-not-exist/resume", "", nil, nil))
}
