package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/rapidflow/pkg/app/core/custody"
	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
	"github.com/uhyunpark/rapidflow/pkg/app/core/market"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/rapidflow/pkg/app/spot"
)

const defaultTradeLimit = 50

// Vaults is the custody view the server needs: balances for audits and, on devnet,
// minting for the faucet. *custody.Bank implements it.
type Vaults interface {
	custody.BalanceReader
	Mint(holder, asset common.Address, amount int64) error
}

type Options struct {
	EnableFaucet bool
	CORSOrigins  []string
}

// Server handles REST API and WebSocket connections.
//
// The controller takes no locks, so every handler goes through mu: entry points take
// the write lock, inspection takes the read lock.
type Server struct {
	mu  sync.RWMutex
	app *spot.App

	vaults Vaults
	router *mux.Router
	hub    *Hub
	opts   Options
	log    *zap.SugaredLogger
}

// NewServer creates a new API server and subscribes it to the app's trades
func NewServer(app *spot.App, vaults Vaults, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		app:    app,
		vaults: vaults,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		opts:   opts,
		log:    log.Named("api").Sugar(),
	}
	app.OnTrades(s.broadcastTrades)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets", s.handleInitializeMarket).Methods("POST")
	api.HandleFunc("/markets/{market}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{market}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{market}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/markets/{market}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{market}/records/{owner}", s.handleGetRecord).Methods("GET")
	api.HandleFunc("/markets/{market}/audit", s.handleAudit).Methods("GET")

	// Entry points
	api.HandleFunc("/markets/{market}/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/markets/{market}/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/markets/{market}/settle", s.handleSettle).Methods("POST")
	api.HandleFunc("/markets/{market}/settle-all", s.handleSettleAll).Methods("POST")
	api.HandleFunc("/markets/{market}/reclaim", s.handleReclaim).Methods("POST")

	// Custody
	api.HandleFunc("/balances/{holder}/{asset}", s.handleGetBalance).Methods("GET")
	if s.opts.EnableFaucet {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	api.HandleFunc("/state", s.handleStateHash).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub and serves HTTP on addr until ctx is done
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_server_starting", "addr", addr, "faucet", s.opts.EnableFaucet)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Inspect runs fn with the read lock held, for callers outside HTTP such as the
// node's status loop. fn must not call entry points.
func (s *Server) Inspect(fn func(app *spot.App)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.app)
}

// ==============================
// Market Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	markets := s.app.Markets()
	s.mu.RUnlock()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleInitializeMarket(w http.ResponseWriter, r *http.Request) {
	var req InitializeMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	base, ok := parseAddress(w, "baseAsset", req.BaseAsset)
	if !ok {
		return
	}
	quote, ok := parseAddress(w, "quoteAsset", req.QuoteAsset)
	if !ok {
		return
	}

	s.mu.Lock()
	m, err := s.app.Initialize(base, quote)
	s.mu.Unlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, marketInfo(m))
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddress(w, "market", mux.Vars(r)["market"])
	if !ok {
		return
	}

	s.mu.RLock()
	m, err := s.app.Market(id)
	s.mu.RUnlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddress(w, "market", mux.Vars(r)["market"])
	if !ok {
		return
	}

	s.mu.RLock()
	snap, err := s.orderbookSnapshot(id)
	s.mu.RUnlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddress(w, "market", mux.Vars(r)["market"])
	if !ok {
		return
	}
	sides := []orderbook.Side{orderbook.Bid, orderbook.Ask}
	switch r.URL.Query().Get("side") {
	case "":
	case "bid":
		sides = sides[:1]
	case "ask":
		sides = sides[1:]
	default:
		respondError(w, http.StatusBadRequest, "invalid_side", "side must be bid or ask")
		return
	}

	var owner *common.Address
	if raw := r.URL.Query().Get("owner"); raw != "" {
		addr, ok := parseAddress(w, "owner", raw)
		if !ok {
			return
		}
		owner = &addr
	}

	response := []OrderInfo{}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, side := range sides {
		orders, err := s.app.Orders(id, side)
		if err != nil {
			respondCoreError(w, err)
			return
		}
		for _, o := range orders {
			if owner != nil && o.Owner != *owner {
				continue
			}
			response = append(response, orderInfo(o))
		}
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddress(w, "market", mux.Vars(r)["market"])
	if !ok {
		return
	}
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	s.mu.RLock()
	trades, err := s.app.RecentTrades(id, limit)
	s.mu.RUnlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = tradeInfo(t)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := parseAddress(w, "market", vars["market"])
	if !ok {
		return
	}
	owner, ok := parseAddress(w, "owner", vars["owner"])
	if !ok {
		return
	}

	s.mu.RLock()
	rec, exists, err := s.app.Record(id, owner)
	s.mu.RUnlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recordInfo(rec, exists))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddress(w, "market", mux.Vars(r)["market"])
	if !ok {
		return
	}

	s.mu.RLock()
	report, err := s.app.Audit(id, s.vaults)
	s.mu.RUnlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, report)
}

// ==============================
// Entry Point Handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddress(w, "market", mux.Vars(r)["market"])
	if !ok {
		return
	}
	var req PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}

	s.mu.Lock()
	res, err := s.app.PlaceOrder(id, owner, req.IsBid, req.Price, req.Size)
	if err == nil {
		s.broadcastOrderbook(id)
	}
	s.mu.Unlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}

	response := PlaceOrderResponse{
		OrderID:   res.OrderID,
		Status:    orderStatus(res.Fills, res.Remaining),
		Fills:     make([]FillInfo, len(res.Fills)),
		Remaining: res.Remaining,
		Locked:    res.Locked,
	}
	for i, f := range res.Fills {
		response.Fills[i] = FillInfo{
			MakerOrderID: f.MakerOrderID,
			Maker:        f.MakerOwner.Hex(),
			Price:        f.Price,
			Size:         f.BaseAmount,
			Quote:        f.QuoteAmount,
		}
	}
	respondJSON(w, http.StatusOK, response)
}

func orderStatus(fills []matching.Fill, remaining int64) string {
	switch {
	case remaining == 0:
		return "filled"
	case len(fills) > 0:
		return "partially_filled"
	default:
		return "open"
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAddress(w, "market", mux.Vars(r)["market"])
	if !ok {
		return
	}
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}
	if req.OrderID == 0 {
		respondError(w, http.StatusBadRequest, "missing_order_id", "orderId is required")
		return
	}

	s.mu.Lock()
	res, err := s.app.CancelOrder(id, owner, req.OrderID, req.IsBid)
	if err == nil {
		s.broadcastOrderbook(id)
	}
	s.mu.Unlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CancelOrderResponse{
		Order:  orderInfo(res.Order),
		Asset:  res.Asset,
		Refund: res.Refund,
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	s.handleSettleOp(w, r, func(id, owner common.Address, req SettleRequest) (*spot.SettleResult, error) {
		return s.app.SettleFunds(id, owner, req.IsBase, req.Amount)
	})
}

func (s *Server) handleSettleAll(w http.ResponseWriter, r *http.Request) {
	s.handleSettleOp(w, r, func(id, owner common.Address, _ SettleRequest) (*spot.SettleResult, error) {
		return s.app.SettleAll(id, owner)
	})
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	s.handleSettleOp(w, r, func(id, owner common.Address, _ SettleRequest) (*spot.SettleResult, error) {
		return s.app.Reclaim(id, owner)
	})
}

func (s *Server) handleSettleOp(w http.ResponseWriter, r *http.Request, op func(id, owner common.Address, req SettleRequest) (*spot.SettleResult, error)) {
	id, ok := parseAddress(w, "market", mux.Vars(r)["market"])
	if !ok {
		return
	}
	var req SettleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, ok := parseAddress(w, "owner", req.Owner)
	if !ok {
		return
	}

	s.mu.Lock()
	res, err := op(id, owner, req)
	s.mu.Unlock()
	if err != nil {
		respondCoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, SettleResponse{
		Base:   res.Base,
		Quote:  res.Quote,
		Record: recordInfo(res.Record, true),
	})
}

// ==============================
// Custody Handlers
// ==============================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	holder, ok := parseAddress(w, "holder", vars["holder"])
	if !ok {
		return
	}
	asset, ok := parseAddress(w, "asset", vars["asset"])
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, BalanceInfo{
		Holder:  holder.Hex(),
		Asset:   asset.Hex(),
		Balance: s.vaults.Balance(holder, asset),
	})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	holder, ok := parseAddress(w, "holder", req.Holder)
	if !ok {
		return
	}
	asset, ok := parseAddress(w, "asset", req.Asset)
	if !ok {
		return
	}

	if err := s.vaults.Mint(holder, asset, req.Amount); err != nil {
		respondCoreError(w, err)
		return
	}
	s.log.Infow("faucet_mint", "holder", holder.Hex(), "asset", asset.Hex(), "amount", req.Amount)

	respondJSON(w, http.StatusOK, BalanceInfo{
		Holder:  holder.Hex(),
		Asset:   asset.Hex(),
		Balance: s.vaults.Balance(holder, asset),
	})
}

func (s *Server) handleStateHash(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.app.StateHash()
	n := len(s.app.Markets())
	s.mu.RUnlock()

	respondJSON(w, http.StatusOK, StateHashResponse{Hash: "0x" + hex.EncodeToString(h[:]), Markets: n})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

func (s *Server) orderbookSnapshot(id common.Address) (OrderbookSnapshot, error) {
	bids, asks, err := s.app.Depth(id)
	if err != nil {
		return OrderbookSnapshot{}, err
	}
	if bids == nil {
		bids = []orderbook.PriceLevel{}
	}
	if asks == nil {
		asks = []orderbook.PriceLevel{}
	}
	return OrderbookSnapshot{
		Market:    id.Hex(),
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// broadcastOrderbook sends the current depth of a market. Caller holds mu.
func (s *Server) broadcastOrderbook(id common.Address) {
	snap, err := s.orderbookSnapshot(id)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+id.Hex(), OrderbookUpdate{Type: "orderbook", OrderbookSnapshot: snap})
}

// broadcastTrades is registered as the app's trade handler
func (s *Server) broadcastTrades(m *market.Market, trades []matching.Trade) {
	channel := "trades:" + m.ID.Hex()
	for _, t := range trades {
		s.hub.BroadcastToChannel(channel, TradeUpdate{Type: "trade", TradeInfo: tradeInfo(t)})
	}
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// errorKinds maps core error kinds to HTTP status and a stable code
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{errs.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{errs.ErrInvalidMarket, http.StatusBadRequest, "invalid_market"},
	{errs.ErrMathOverflow, http.StatusBadRequest, "math_overflow"},
	{errs.ErrMarketNotFound, http.StatusNotFound, "market_not_found"},
	{errs.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{errs.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{errs.ErrMarketExists, http.StatusConflict, "market_exists"},
	{errs.ErrBookFull, http.StatusConflict, "book_full"},
	{errs.ErrDuplicateOrder, http.StatusConflict, "duplicate_order"},
	{errs.ErrInsufficientExternalBalance, http.StatusUnprocessableEntity, "insufficient_external_balance"},
	{errs.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{errs.ErrNoFundsToSettle, http.StatusUnprocessableEntity, "no_funds_to_settle"},
}

func respondCoreError(w http.ResponseWriter, err error) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			respondError(w, k.status, k.code, err.Error())
			return
		}
	}
	respondError(w, http.StatusInternalServerError, "internal", err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, field, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid_address", fmt.Sprintf("%s: %q is not a hex address", field, raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
