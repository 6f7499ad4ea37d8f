// Package errs defines the error kinds returned by the exchange core.
// Callers match them with errors.Is; messages carry the details.
package errs

import (
	"errors"

	"github.com/uhyunpark/rapidflow/pkg/util"
)

var (
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrInsufficientExternalBalance = errors.New("insufficient external balance")
	ErrBookFull                    = errors.New("order book is full")
	ErrOrderNotFound               = errors.New("order not found")
	ErrUnauthorized                = errors.New("unauthorized")
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrNoFundsToSettle             = errors.New("no funds to settle")

	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrMarketExists   = errors.New("market already initialized")
	ErrMarketNotFound = errors.New("market not found")
	ErrInvalidMarket  = errors.New("invalid market")
	ErrMathOverflow   = util.ErrMathOverflow
)
