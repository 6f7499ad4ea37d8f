// Package core re-exports the exchange core's types and error kinds so hosts can
// depend on one package instead of each subpackage
package core

import (
	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/market"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
)

// From orderbook package
type (
	Side       = orderbook.Side
	Order      = orderbook.Order
	PriceLevel = orderbook.PriceLevel
	Book       = orderbook.Book
)

const (
	Bid = orderbook.Bid
	Ask = orderbook.Ask
)

func NewBook(side Side, capacity int) *Book {
	return orderbook.NewBook(side, capacity)
}

// From matching package
type (
	Fill  = matching.Fill
	Trade = matching.Trade
)

// From ledger package
type (
	Asset  = ledger.Asset
	Record = ledger.Record
)

const (
	Base  = ledger.Base
	Quote = ledger.Quote
)

// From market package
type (
	Market         = market.Market
	MarketRegistry = market.Registry
)

func NewMarketRegistry() *MarketRegistry {
	return market.NewRegistry()
}

// Error kinds
var (
	ErrInvalidAmount               = errs.ErrInvalidAmount
	ErrInsufficientExternalBalance = errs.ErrInsufficientExternalBalance
	ErrBookFull                    = errs.ErrBookFull
	ErrOrderNotFound               = errs.ErrOrderNotFound
	ErrUnauthorized                = errs.ErrUnauthorized
	ErrInsufficientFunds           = errs.ErrInsufficientFunds
	ErrNoFundsToSettle             = errs.ErrNoFundsToSettle

	ErrDuplicateOrder = errs.ErrDuplicateOrder
	ErrMarketExists   = errs.ErrMarketExists
	ErrMarketNotFound = errs.ErrMarketNotFound
	ErrInvalidMarket  = errs.ErrInvalidMarket
	ErrMathOverflow   = errs.ErrMathOverflow
)
