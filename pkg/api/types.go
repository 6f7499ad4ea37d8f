package api

import (
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/market"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
)

// API types for REST endpoints and WebSocket messages.
// Addresses are 0x-prefixed hex; amounts are integer units of the asset.

// ==============================
// REST Response Types
// ==============================

// MarketInfo is a market descriptor
type MarketInfo struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	BaseAsset    string `json:"baseAsset"`
	QuoteAsset   string `json:"quoteAsset"`
	BaseVault    string `json:"baseVault"`
	QuoteVault   string `json:"quoteVault"`
	BookCapacity int    `json:"bookCapacity"` // per side
	CreatedAt    int64  `json:"createdAt"`    // Unix milliseconds
}

func marketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		ID:           m.ID.Hex(),
		Symbol:       m.Symbol(),
		BaseAsset:    m.BaseAsset.Hex(),
		QuoteAsset:   m.QuoteAsset.Hex(),
		BaseVault:    m.BaseVault.Hex(),
		QuoteVault:   m.QuoteVault.Hex(),
		BookCapacity: m.BookCapacity,
		CreatedAt:    m.CreatedAt,
	}
}

// OrderbookSnapshot is aggregated depth of both sides
type OrderbookSnapshot struct {
	Market    string                 `json:"market"`
	Bids      []orderbook.PriceLevel `json:"bids"` // Sorted high to low
	Asks      []orderbook.PriceLevel `json:"asks"` // Sorted low to high
	Timestamp int64                  `json:"timestamp"`
}

// OrderInfo is a resting order
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Side      string `json:"side"` // "bid" or "ask"
	Price     int64  `json:"price"`
	Size      int64  `json:"size"` // remaining
	CreatedAt int64  `json:"createdAt"`
}

func orderInfo(o orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Owner:     o.Owner.Hex(),
		Side:      o.Side.String(),
		Price:     o.Price,
		Size:      o.Size,
		CreatedAt: o.CreatedAt,
	}
}

// TradeInfo is an executed fill
type TradeInfo struct {
	Seq          uint64 `json:"seq"`
	Market       string `json:"market"`
	MakerOrderID uint64 `json:"makerOrderId"`
	TakerOrderID uint64 `json:"takerOrderId"`
	Maker        string `json:"maker"`
	Taker        string `json:"taker"`
	TakerSide    string `json:"takerSide"`
	Price        int64  `json:"price"`
	Size         int64  `json:"size"`  // base units
	Quote        int64  `json:"quote"` // quote units
	Timestamp    int64  `json:"timestamp"`
}

func tradeInfo(t matching.Trade) TradeInfo {
	return TradeInfo{
		Seq:          t.Seq,
		Market:       t.Market.Hex(),
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		Maker:        t.MakerOwner.Hex(),
		Taker:        t.TakerOwner.Hex(),
		TakerSide:    t.TakerSide.String(),
		Price:        t.Price,
		Size:         t.BaseAmount,
		Quote:        t.QuoteAmount,
		Timestamp:    t.Timestamp,
	}
}

// RecordInfo is an owner's ledger record in one market
type RecordInfo struct {
	Market      string `json:"market"`
	Owner       string `json:"owner"`
	Exists      bool   `json:"exists"`
	BaseFree    int64  `json:"baseFree"`
	BaseLocked  int64  `json:"baseLocked"`
	QuoteFree   int64  `json:"quoteFree"`
	QuoteLocked int64  `json:"quoteLocked"`
}

func recordInfo(r ledger.Record, exists bool) RecordInfo {
	return RecordInfo{
		Market:      r.Market.Hex(),
		Owner:       r.Owner.Hex(),
		Exists:      exists,
		BaseFree:    r.BaseFree,
		BaseLocked:  r.BaseLocked,
		QuoteFree:   r.QuoteFree,
		QuoteLocked: r.QuoteLocked,
	}
}

// FillInfo is one fill of a placement
type FillInfo struct {
	MakerOrderID uint64 `json:"makerOrderId"`
	Maker        string `json:"maker"`
	Price        int64  `json:"price"`
	Size         int64  `json:"size"`
	Quote        int64  `json:"quote"`
}

// PlaceOrderResponse is the response from POST .../orders
type PlaceOrderResponse struct {
	OrderID   uint64     `json:"orderId"`
	Status    string     `json:"status"` // "filled", "partially_filled", "open"
	Fills     []FillInfo `json:"fills"`
	Remaining int64      `json:"remaining"`
	Locked    int64      `json:"locked"`
}

// CancelOrderResponse is the response from POST .../orders/cancel
type CancelOrderResponse struct {
	Order  OrderInfo `json:"order"`
	Asset  string    `json:"asset"` // "base" or "quote"
	Refund int64     `json:"refund"`
}

// SettleResponse is the response from settle, settle-all and reclaim
type SettleResponse struct {
	Base   int64      `json:"base"`
	Quote  int64      `json:"quote"`
	Record RecordInfo `json:"record"`
}

// BalanceInfo is an external (custody) balance
type BalanceInfo struct {
	Holder  string `json:"holder"`
	Asset   string `json:"asset"`
	Balance int64  `json:"balance"`
}

// StateHashResponse is the response from GET /state
type StateHashResponse struct {
	Hash    string `json:"hash"`
	Markets int    `json:"markets"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable kind, e.g. "insufficient_funds"
	Message string `json:"message"` // details
}

// ==============================
// REST Request Types
// ==============================

// InitializeMarketRequest is the payload for POST /api/v1/markets
type InitializeMarketRequest struct {
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// PlaceOrderRequest is the payload for POST /api/v1/markets/{market}/orders
type PlaceOrderRequest struct {
	Owner string `json:"owner"`
	IsBid bool   `json:"isBid"`
	Price int64  `json:"price"`
	Size  int64  `json:"size"`
}

// CancelOrderRequest is the payload for POST /api/v1/markets/{market}/orders/cancel
type CancelOrderRequest struct {
	Owner   string `json:"owner"`
	OrderID uint64 `json:"orderId"`
	IsBid   bool   `json:"isBid"`
}

// SettleRequest is the payload for POST /api/v1/markets/{market}/settle.
// settle-all and reclaim only read Owner.
type SettleRequest struct {
	Owner  string `json:"owner"`
	IsBase bool   `json:"isBase"`
	Amount int64  `json:"amount"`
}

// FaucetRequest is the payload for POST /api/v1/faucet
type FaucetRequest struct {
	Holder string `json:"holder"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orderbook:0x…", "trades:0x…"]
}

// WSAck confirms a subscription change
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

// OrderbookUpdate is broadcast after every book change
type OrderbookUpdate struct {
	Type string `json:"type"` // "orderbook"
	OrderbookSnapshot
}

// TradeUpdate is broadcast when a trade executes
type TradeUpdate struct {
	Type string `json:"type"` // "trade"
	TradeInfo
}
