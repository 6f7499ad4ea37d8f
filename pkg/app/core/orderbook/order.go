package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
)

var (
	ErrBookFull       = errs.ErrBookFull
	ErrOrderNotFound  = errs.ErrOrderNotFound
	ErrUnauthorized   = errs.ErrUnauthorized
	ErrInvalidAmount  = errs.ErrInvalidAmount
	ErrDuplicateOrder = errs.ErrDuplicateOrder
)

// Side identifies which book an order rests in
type Side int8

const (
	Bid Side = 1
	Ask Side = -1
)

// SideOf maps the wire-level is_bid flag to a Side
func SideOf(isBid bool) Side {
	if isBid {
		return Bid
	}
	return Ask
}

// Opposite returns the side a taker on s matches against
func (s Side) Opposite() Side {
	return -s
}

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Order is a resting commitment in exactly one book.
// Size is the remaining (unfilled) base quantity.
type Order struct {
	ID        uint64         `json:"id"`
	Owner     common.Address `json:"owner"`
	Side      Side           `json:"side"`
	Price     int64          `json:"price"` // quote units per base unit
	Size      int64          `json:"size"`  // base units
	CreatedAt int64          `json:"createdAt"`
}

// PriceLevel aggregates all resting size at one price
type PriceLevel struct {
	Price  int64 `json:"price"`
	Size   int64 `json:"size"`
	Orders int   `json:"orders"`
}
