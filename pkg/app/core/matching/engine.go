// Package matching crosses an incoming limit order against the opposite book.
//
// Match only edits book state and reports what happened as Fill events; balances and
// custody are the caller's business, which keeps the crossing logic testable on its own.
package matching

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

// Intent is the taker side of a match
type Intent struct {
	OrderID uint64
	Owner   common.Address
	Side    orderbook.Side
	Price   int64 // limit price
	Size    int64
}

// Fill is one maker/taker execution. Price is always the maker's price.
type Fill struct {
	MakerOrderID uint64         `json:"makerOrderId"`
	TakerOrderID uint64         `json:"takerOrderId"`
	MakerOwner   common.Address `json:"makerOwner"`
	TakerOwner   common.Address `json:"takerOwner"`
	TakerSide    orderbook.Side `json:"takerSide"`
	Price        int64          `json:"price"`
	BaseAmount   int64          `json:"baseAmount"`
	QuoteAmount  int64          `json:"quoteAmount"`
}

// MakerSide is the side of the resting order
func (f Fill) MakerSide() orderbook.Side { return f.TakerSide.Opposite() }

// Result is the outcome of a match: fills in execution order and what is left of the taker
type Result struct {
	Fills     []Fill
	Remaining int64
}

// Filled returns the base quantity executed
func (r Result) Filled() int64 {
	var n int64
	for _, f := range r.Fills {
		n += f.BaseAmount
	}
	return n
}

// Crosses reports whether a resting price is acceptable to a taker limit
func Crosses(takerSide orderbook.Side, limit, resting int64) bool {
	if takerSide == orderbook.Bid {
		return resting <= limit
	}
	return resting >= limit
}

// Match walks the opposite book best-first while the taker has size left and the best
// remaining order crosses its limit. Orders owned by the taker are never matched: they
// are passed over and stay on the book untouched.
//
// On error the book may be partially edited; callers run Match against a clone.
func Match(opposite *orderbook.Book, in Intent) (Result, error) {
	if opposite.Side() != in.Side.Opposite() {
		return Result{}, fmt.Errorf("taker %s cannot match the %s book", in.Side, opposite.Side())
	}
	if in.Price <= 0 || in.Size <= 0 {
		return Result{}, fmt.Errorf("%w: price=%d size=%d", orderbook.ErrInvalidAmount, in.Price, in.Size)
	}

	res := Result{Remaining: in.Size}

	// orders are snapshotted best-first; edits below only shrink or drop entries
	// we have already visited, so the walk order stays valid
	for _, maker := range opposite.Orders() {
		if res.Remaining == 0 || !Crosses(in.Side, in.Price, maker.Price) {
			break
		}
		if maker.Owner == in.Owner {
			continue
		}

		qty := min(res.Remaining, maker.Size)
		quote, err := util.CheckedMul(qty, maker.Price)
		if err != nil {
			return Result{}, err
		}
		if _, err := opposite.ReduceOrRemove(maker.ID, qty); err != nil {
			return Result{}, err
		}

		res.Remaining -= qty
		res.Fills = append(res.Fills, Fill{
			MakerOrderID: maker.ID,
			TakerOrderID: in.OrderID,
			MakerOwner:   maker.Owner,
			TakerOwner:   in.Owner,
			TakerSide:    in.Side,
			Price:        maker.Price,
			BaseAmount:   qty,
			QuoteAmount:  quote,
		})
	}

	return res, nil
}
