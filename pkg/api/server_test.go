package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/uhyunpark/rapidflow/pkg/app/core/custody"
	"github.com/uhyunpark/rapidflow/pkg/app/core/market"
	"github.com/uhyunpark/rapidflow/pkg/app/spot"
)

var (
	baseAsset  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	quoteAsset = common.HexToAddress("0x2222222222222222222222222222222222222222")
	alice      = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob        = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

type testEnv struct {
	srv    *Server
	bank   *custody.Bank
	http   *httptest.Server
	market string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bank := custody.NewBank()
	app := spot.NewApp(spot.Config{}, bank, nil, nil, nil)
	srv := NewServer(app, bank, Options{EnableFaucet: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	env := &testEnv{srv: srv, bank: bank, http: ts}

	var m MarketInfo
	env.do(t, "POST", "/api/v1/markets", InitializeMarketRequest{BaseAsset: baseAsset.Hex(), QuoteAsset: quoteAsset.Hex()}, http.StatusCreated, &m)
	env.market = m.ID

	for _, owner := range []common.Address{alice, bob} {
		for _, asset := range []common.Address{baseAsset, quoteAsset} {
			env.do(t, "POST", "/api/v1/faucet", FaucetRequest{Holder: owner.Hex(), Asset: asset.Hex(), Amount: 10_000}, http.StatusOK, nil)
		}
	}
	return env
}

// do sends body as JSON, checks the status and decodes the response into out
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, wantStatus int, out interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var er ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		t.Fatalf("%s %s: status %d, want %d (%s: %s)", method, path, resp.StatusCode, wantStatus, er.Error, er.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

func (e *testEnv) path(suffix string) string {
	return "/api/v1/markets/" + e.market + suffix
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	var out map[string]string
	e.do(t, "GET", "/health", nil, http.StatusOK, &out)
	if out["status"] != "ok" {
		t.Errorf("health = %v", out)
	}
}

func TestMarketEndpoints(t *testing.T) {
	e := newTestEnv(t)

	var list []MarketInfo
	e.do(t, "GET", "/api/v1/markets", nil, http.StatusOK, &list)
	if len(list) != 1 || list[0].ID != market.DeriveID(baseAsset, quoteAsset).Hex() {
		t.Fatalf("markets = %+v", list)
	}

	var m MarketInfo
	e.do(t, "GET", e.path(""), nil, http.StatusOK, &m)
	if m.BaseAsset != baseAsset.Hex() || m.BookCapacity != 128 {
		t.Errorf("market = %+v", m)
	}

	var er ErrorResponse
	e.do(t, "POST", "/api/v1/markets", InitializeMarketRequest{BaseAsset: baseAsset.Hex(), QuoteAsset: quoteAsset.Hex()}, http.StatusConflict, &er)
	if er.Error != "market_exists" {
		t.Errorf("error = %+v", er)
	}
	e.do(t, "GET", "/api/v1/markets/0x0000000000000000000000000000000000000001", nil, http.StatusNotFound, nil)
	e.do(t, "GET", "/api/v1/markets/nothex", nil, http.StatusBadRequest, nil)
}

func TestTradingFlow(t *testing.T) {
	e := newTestEnv(t)

	var placed PlaceOrderResponse
	e.do(t, "POST", e.path("/orders"), PlaceOrderRequest{Owner: alice.Hex(), IsBid: true, Price: 100, Size: 5}, http.StatusOK, &placed)
	if placed.OrderID != 1 || placed.Status != "open" || placed.Locked != 500 {
		t.Fatalf("placed = %+v", placed)
	}

	var taker PlaceOrderResponse
	e.do(t, "POST", e.path("/orders"), PlaceOrderRequest{Owner: bob.Hex(), IsBid: false, Price: 95, Size: 2}, http.StatusOK, &taker)
	if taker.Status != "filled" || len(taker.Fills) != 1 || taker.Fills[0].Price != 100 || taker.Fills[0].Quote != 200 {
		t.Fatalf("taker = %+v", taker)
	}

	var book OrderbookSnapshot
	e.do(t, "GET", e.path("/orderbook"), nil, http.StatusOK, &book)
	if len(book.Bids) != 1 || book.Bids[0].Size != 3 || len(book.Asks) != 0 {
		t.Errorf("book = %+v", book)
	}

	var orders []OrderInfo
	e.do(t, "GET", e.path("/orders?side=bid&owner="+alice.Hex()), nil, http.StatusOK, &orders)
	if len(orders) != 1 || orders[0].Size != 3 {
		t.Errorf("orders = %+v", orders)
	}

	var trades []TradeInfo
	e.do(t, "GET", e.path("/trades?limit=5"), nil, http.StatusOK, &trades)
	if len(trades) != 1 || trades[0].Maker != alice.Hex() || trades[0].Size != 2 {
		t.Errorf("trades = %+v", trades)
	}

	var rec RecordInfo
	e.do(t, "GET", e.path("/records/"+bob.Hex()), nil, http.StatusOK, &rec)
	if !rec.Exists || rec.QuoteFree != 200 || rec.BaseLocked != 0 {
		t.Errorf("bob record = %+v", rec)
	}

	var settled SettleResponse
	e.do(t, "POST", e.path("/settle"), SettleRequest{Owner: bob.Hex(), IsBase: false, Amount: 200}, http.StatusOK, &settled)
	if settled.Quote != 200 || settled.Record.QuoteFree != 0 {
		t.Errorf("settled = %+v", settled)
	}

	var er ErrorResponse
	e.do(t, "POST", e.path("/settle"), SettleRequest{Owner: bob.Hex(), IsBase: false, Amount: 200}, http.StatusUnprocessableEntity, &er)
	if er.Error != "no_funds_to_settle" {
		t.Errorf("second settle error = %+v", er)
	}

	var cancelled CancelOrderResponse
	e.do(t, "POST", e.path("/orders/cancel"), CancelOrderRequest{Owner: alice.Hex(), OrderID: 1, IsBid: true}, http.StatusOK, &cancelled)
	if cancelled.Refund != 300 || cancelled.Asset != "quote" {
		t.Errorf("cancelled = %+v", cancelled)
	}

	var bal BalanceInfo
	e.do(t, "GET", "/api/v1/balances/"+alice.Hex()+"/"+quoteAsset.Hex(), nil, http.StatusOK, &bal)
	if bal.Balance != 10_000-200 {
		t.Errorf("alice quote balance = %d, want %d", bal.Balance, 10_000-200)
	}

	var report spot.AuditReport
	e.do(t, "GET", e.path("/audit"), nil, http.StatusOK, &report)
	if report.BaseLedger != report.BaseVault || report.QuoteLedger != report.QuoteVault {
		t.Errorf("audit = %+v", report)
	}
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "POST", e.path("/orders"), PlaceOrderRequest{Owner: alice.Hex(), IsBid: true, Price: 10, Size: 1}, http.StatusOK, nil)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"zero size", "/orders", PlaceOrderRequest{Owner: alice.Hex(), IsBid: true, Price: 10, Size: 0}, http.StatusBadRequest, "invalid_amount"},
		{"bad owner", "/orders", PlaceOrderRequest{Owner: "alice", IsBid: true, Price: 10, Size: 1}, http.StatusBadRequest, "invalid_address"},
		{"unknown field", "/orders", map[string]interface{}{"owner": alice.Hex(), "qty": 1}, http.StatusBadRequest, "invalid_body"},
		{"no external funds", "/orders", PlaceOrderRequest{Owner: "0xDD00000000000000000000000000000000000000", IsBid: true, Price: 10, Size: 1}, http.StatusUnprocessableEntity, "insufficient_external_balance"},
		{"vault as owner", "/orders", PlaceOrderRequest{Owner: market.DeriveVault(common.HexToAddress(e.market), quoteAsset).Hex(), IsBid: true, Price: 10, Size: 1}, http.StatusForbidden, "unauthorized"},
		{"cancel other's order", "/orders/cancel", CancelOrderRequest{Owner: bob.Hex(), OrderID: 1, IsBid: true}, http.StatusForbidden, "unauthorized"},
		{"cancel unknown order", "/orders/cancel", CancelOrderRequest{Owner: alice.Hex(), OrderID: 9, IsBid: true}, http.StatusNotFound, "order_not_found"},
		{"settle zero", "/settle", SettleRequest{Owner: alice.Hex(), Amount: 0}, http.StatusBadRequest, "invalid_amount"},
		{"settle all nothing", "/settle-all", SettleRequest{Owner: alice.Hex()}, http.StatusUnprocessableEntity, "no_funds_to_settle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var er ErrorResponse
			e.do(t, "POST", e.path(tt.path), tt.body, tt.status, &er)
			if er.Error != tt.code {
				t.Errorf("error = %+v, want code %s", er, tt.code)
			}
		})
	}
}

func TestFaucetDisabled(t *testing.T) {
	bank := custody.NewBank()
	app := spot.NewApp(spot.Config{}, bank, nil, nil, nil)
	srv := NewServer(app, bank, Options{}, nil)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"holder":"0xAA00000000000000000000000000000000000000","asset":"0x1111111111111111111111111111111111111111","amount":5}`)
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/faucet", body))
	if rec.Code == http.StatusOK {
		t.Errorf("faucet served while disabled")
	}
}

func TestWebSocketTrades(t *testing.T) {
	e := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	channel := "trades:" + e.market
	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{channel}}); err != nil {
		t.Fatal(err)
	}
	var ack WSAck
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != "subscribed" || len(ack.Channels) != 1 || ack.Channels[0] != channel {
		t.Fatalf("ack = %+v", ack)
	}

	e.do(t, "POST", e.path("/orders"), PlaceOrderRequest{Owner: alice.Hex(), IsBid: false, Price: 7, Size: 3}, http.StatusOK, nil)
	e.do(t, "POST", e.path("/orders"), PlaceOrderRequest{Owner: bob.Hex(), IsBid: true, Price: 7, Size: 3}, http.StatusOK, nil)

	var update TradeUpdate
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read trade: %v", err)
	}
	if update.Type != "trade" || update.Price != 7 || update.Size != 3 || update.Taker != bob.Hex() || update.Seq != 1 {
		t.Errorf("update = %+v", update)
	}
}
