package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/exchange"
	"github.com/uhyunpark/stocksim/pkg/ledger"
	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/metrics"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
	"github.com/uhyunpark/stocksim/pkg/quote"
	"github.com/uhyunpark/stocksim/pkg/settlement"
)

type testEnv struct {
	srv    *httptest.Server
	engine *matching.Engine
	hub    *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()

	reg := market.NewRegistry()
	inst, err := market.NewInstrument("A", "Alpha", "Tech", 1000, 1000000)
	require.NoError(t, err)
	require.NoError(t, reg.Register(inst))

	store, err := ledger.Open("", log, ledger.Options{InitialBalance: 1000000, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	engine := matching.NewEngine(log, reg, matching.Options{})
	rec := settlement.NewReconciler(log, engine, reg, store, nil, m)
	quotes := quote.NewPublisher(reg, engine, 10, nil)
	x := exchange.New(log, exchange.Config{}, reg, engine, store, rec, quotes, nil, m)

	hub := NewHub(log)
	engine.AddSink(matching.FanOut{rec, m, hub})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	s := NewServer(log, x, store, quotes, m, hub, []string{"*"})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, engine: engine, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (e *testEnv) createUser(t *testing.T, name string) ledger.User {
	t.Helper()
	code, body := e.do(t, "POST", "/api/v1/users", CreateUserRequest{Username: name})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, code)
	var w WalletInfo
	require.NoError(t, json.Unmarshal(body, &w))
	return w.User
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	code, body := e.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"ok"`)
}

func TestCreateUserIsIdempotent(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, "POST", "/api/v1/users", CreateUserRequest{Username: "alice"})
	require.Equal(t, http.StatusCreated, code)
	var first WalletInfo
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Created)
	assert.Equal(t, int64(1000000), first.User.Balance)

	code, body = e.do(t, "POST", "/api/v1/users", CreateUserRequest{Username: "alice"})
	require.Equal(t, http.StatusOK, code)
	var second WalletInfo
	require.NoError(t, json.Unmarshal(body, &second))
	assert.False(t, second.Created)
	assert.Equal(t, first.User.ID, second.User.ID)

	code, _ = e.do(t, "POST", "/api/v1/users", CreateUserRequest{Username: " "})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetUser(t *testing.T) {
	e := newTestEnv(t)
	u := e.createUser(t, "alice")

	code, body := e.do(t, "GET", "/api/v1/users/"+itoa(u.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var w WalletInfo
	require.NoError(t, json.Unmarshal(body, &w))
	assert.Equal(t, "alice", w.User.Username)
	assert.Empty(t, w.Holdings)

	code, _ = e.do(t, "GET", "/api/v1/users/999", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = e.do(t, "GET", "/api/v1/users/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestOrderLifecycle(t *testing.T) {
	e := newTestEnv(t)
	u := e.createUser(t, "alice")

	code, body := e.do(t, "POST", "/api/v1/orders", SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "buy", Price: 900, Quantity: 2})
	require.Equal(t, http.StatusCreated, code, string(body))
	var sub SubmitOrderResponse
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.Equal(t, ledger.StatusPending, sub.Order.Status)

	code, body = e.do(t, "GET", "/api/v1/users/"+itoa(u.ID)+"/orders", nil)
	require.Equal(t, http.StatusOK, code)
	var orders []ledger.OrderRecord
	require.NoError(t, json.Unmarshal(body, &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, orderbook.Buy, orders[0].Side)

	code, body = e.do(t, "GET", "/api/v1/market-data?ticker=A", nil)
	require.Equal(t, http.StatusOK, code)
	var md quote.MarketData
	require.NoError(t, json.Unmarshal(body, &md))
	require.Len(t, md.TopBids, 1)
	assert.Equal(t, int64(900), md.TopBids[0].Price)

	code, _ = e.do(t, "DELETE", "/api/v1/orders/"+itoa(sub.Order.ID), nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, "DELETE", "/api/v1/orders/"+itoa(sub.Order.ID), nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = e.do(t, "DELETE", "/api/v1/orders/4242", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = e.do(t, "GET", "/api/v1/users/"+itoa(u.ID)+"/transactions", nil)
	require.Equal(t, http.StatusOK, code)
	var txs []ledger.Transaction
	require.NoError(t, json.Unmarshal(body, &txs))
	require.Len(t, txs, 3)
	assert.Equal(t, ledger.TxRefund, txs[0].Type)
	assert.Equal(t, int64(1000000), txs[0].BalanceAfter)
}

func TestSubmitOrderErrors(t *testing.T) {
	e := newTestEnv(t)
	u := e.createUser(t, "alice")

	cases := []struct {
		name string
		req  SubmitOrderRequest
		want int
	}{
		{"market kind", SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "BUY", Kind: "MARKET", Price: 1000, Quantity: 1}, http.StatusBadRequest},
		{"bad side", SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "HOLD", Price: 1000, Quantity: 1}, http.StatusBadRequest},
		{"bad kind", SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "BUY", Kind: "STOP", Price: 1000, Quantity: 1}, http.StatusBadRequest},
		{"unknown ticker", SubmitOrderRequest{UserID: u.ID, Ticker: "ZZ", Side: "BUY", Price: 1000, Quantity: 1}, http.StatusNotFound},
		{"insufficient funds", SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "BUY", Price: 1000, Quantity: 5000}, http.StatusBadRequest},
		{"insufficient shares", SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "SELL", Price: 1000, Quantity: 1}, http.StatusBadRequest},
		{"zero quantity", SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "BUY", Price: 1000}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := e.do(t, "POST", "/api/v1/orders", tc.req)
			assert.Equal(t, tc.want, code, string(body))
		})
	}

	req, err := http.NewRequest("POST", e.srv.URL+"/api/v1/orders", strings.NewReader("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarketsAndMarketData(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, "GET", "/api/v1/markets", nil)
	require.Equal(t, http.StatusOK, code)
	var markets []quote.Summary
	require.NoError(t, json.Unmarshal(body, &markets))
	require.Len(t, markets, 1)
	assert.Equal(t, "A", markets[0].Ticker)
	assert.Equal(t, int64(1000), markets[0].Price)

	code, _ = e.do(t, "GET", "/api/v1/market-data", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, "GET", "/api/v1/market-data?ticker=ZZ", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReward(t *testing.T) {
	e := newTestEnv(t)
	u := e.createUser(t, "alice")

	code, body := e.do(t, "POST", "/api/v1/users/"+itoa(u.ID)+"/rewards", RewardRequest{Amount: 500, Description: "quiz"})
	require.Equal(t, http.StatusOK, code)
	var got ledger.User
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, int64(1000500), got.Balance)

	code, _ = e.do(t, "POST", "/api/v1/users/"+itoa(u.ID)+"/rewards", RewardRequest{Amount: -1})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, "POST", "/api/v1/users/999/rewards", RewardRequest{Amount: 1})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "GET", "/health", nil)

	code, body := e.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `stocksim_api_requests_total{route="/health",status="200"} 1`)
}

func TestWebSocketTradeFeed(t *testing.T) {
	e := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{TradeChannel("A")}}))
	require.Eventually(t, func() bool {
		e.hub.mu.RLock()
		defer e.hub.mu.RUnlock()
		for c := range e.hub.clients {
			if c.IsSubscribed(TradeChannel("A")) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, err = e.engine.PlaceOrder(orderbook.Order{OwnerID: "Bot_Noise", Ticker: "A", Side: orderbook.Sell, Kind: orderbook.Limit, Quantity: 1, LimitPrice: 1000})
	require.NoError(t, err)
	_, err = e.engine.PlaceOrder(orderbook.Order{OwnerID: "Bot_Noise", Ticker: "A", Side: orderbook.Buy, Kind: orderbook.Limit, Quantity: 1, LimitPrice: 1000})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg TradeUpdate
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "trade", msg.Type)
	assert.Equal(t, "A", msg.Ticker)
	assert.Equal(t, int64(1000), msg.Price)
	assert.Equal(t, "BUY", msg.Side)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ledger.ErrInsufficientFunds, http.StatusBadRequest},
		{matching.ErrUnsupportedKind, http.StatusBadRequest},
		{market.ErrUnknownTicker, http.StatusNotFound},
		{ledger.ErrOrderNotFound, http.StatusNotFound},
		{ledger.ErrNotPending, http.StatusConflict},
		{matching.ErrHalted, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func itoa(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func TestHaltAndResume(t *testing.T) {
	e := newTestEnv(t)
	u := e.createUser(t, "alice")
	order := SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "BUY", Price: 900, Quantity: 1}

	code, _ := e.do(t, "POST", "/api/v1/markets/A/halt", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := e.do(t, "GET", "/api/v1/markets", nil)
	require.Equal(t, http.StatusOK, code)
	var markets []quote.Summary
	require.NoError(t, json.Unmarshal(body, &markets))
	require.Len(t, markets, 1)
	assert.Equal(t, "Halted", markets[0].Status)

	code, _ = e.do(t, "POST", "/api/v1/orders", order)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = e.do(t, "POST", "/api/v1/markets/A/resume", nil)
	require.Equal(t, http.StatusOK, code)
	code, body = e.do(t, "POST", "/api/v1/orders", order)
	assert.Equal(t, http.StatusCreated, code, string(body))

	code, _ = e.do(t, "POST", "/api/v1/markets/ZZ/halt", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSubmitOversizedOrderRejected(t *testing.T) {
	e := newTestEnv(t)
	u := e.createUser(t, "alice")
	_, err := e.engine.PlaceOrder(orderbook.Order{OwnerID: "Bot_Noise", Ticker: "A", Side: orderbook.Sell, Kind: orderbook.Limit, Quantity: 1, LimitPrice: 1000})
	require.NoError(t, err)

	code, body := e.do(t, "POST", "/api/v1/orders", SubmitOrderRequest{UserID: u.ID, Ticker: "A", Side: "BUY", Price: 1 << 62, Quantity: 4})
	assert.Equal(t, http.StatusBadRequest, code, string(body))

	code, body = e.do(t, "GET", "/api/v1/users/"+itoa(u.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var w WalletInfo
	require.NoError(t, json.Unmarshal(body, &w))
	assert.Equal(t, int64(1000000), w.User.Balance)
}
