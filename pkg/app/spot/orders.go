package spot

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

// PlaceResult is the outcome of a successful PlaceOrder
type PlaceResult struct {
	OrderID   uint64          `json:"orderId"`
	Fills     []matching.Fill `json:"fills"`
	Remaining int64           `json:"remaining"`
	Rested    bool            `json:"rested"` // remainder is on the book under OrderID
	Locked    int64           `json:"locked"` // amount moved into the vault
}

// CancelResult is the outcome of a successful CancelOrder
type CancelResult struct {
	Order  orderbook.Order `json:"order"`
	Asset  string          `json:"asset"`
	Refund int64           `json:"refund"`
}

// lockFor returns the asset and amount a new order must lock: price*size quote for a
// bid, size base for an ask
func lockFor(side orderbook.Side, price, size int64) (ledger.Asset, int64, error) {
	if side == orderbook.Ask {
		return ledger.Base, size, nil
	}
	amount, err := util.CheckedMul(price, size)
	return ledger.Quote, amount, err
}

// settleLeg applies one side of a fill to a record: the asset the side locked leaves
// its locked field, the other asset lands in free
func settleLeg(rec *ledger.Record, side orderbook.Side, f matching.Fill) error {
	if side == orderbook.Bid {
		return rec.Exchange(ledger.Quote, f.QuoteAmount, f.BaseAmount)
	}
	return rec.Exchange(ledger.Base, f.BaseAmount, f.QuoteAmount)
}

// PlaceOrder locks the order's funds, matches it against the opposite book at maker
// prices and rests whatever is left.
//
// The taker is charged the execution price, so a bid that crosses below its limit
// keeps the difference locked. Reclaim releases it.
func (a *App) PlaceOrder(marketID, owner common.Address, isBid bool, price, size int64) (*PlaceResult, error) {
	if price <= 0 || size <= 0 {
		return nil, fmt.Errorf("%w: price=%d size=%d", errs.ErrInvalidAmount, price, size)
	}
	st, err := a.state(marketID)
	if err != nil {
		return nil, err
	}
	m := st.market
	if err := checkOwner(m, owner); err != nil {
		return nil, err
	}

	side := orderbook.SideOf(isBid)
	lockAsset, lockAmount, err := lockFor(side, price, size)
	if err != nil {
		return nil, err
	}

	t := begin(st)
	orderID := t.allocOrderID()
	now := a.now()

	taker := t.record(owner)
	if err := taker.Lock(lockAsset, lockAmount); err != nil {
		return nil, err
	}

	res, err := matching.Match(t.book(side.Opposite()), matching.Intent{
		OrderID: orderID,
		Owner:   owner,
		Side:    side,
		Price:   price,
		Size:    size,
	})
	if err != nil {
		return nil, err
	}

	for _, f := range res.Fills {
		if err := settleLeg(t.record(f.MakerOwner), f.MakerSide(), f); err != nil {
			return nil, fmt.Errorf("maker %d: %w", f.MakerOrderID, err)
		}
		if err := settleLeg(taker, side, f); err != nil {
			return nil, fmt.Errorf("taker %d: %w", orderID, err)
		}
	}

	rested := false
	if res.Remaining > 0 {
		err := t.book(side).Insert(orderbook.Order{
			ID:        orderID,
			Owner:     owner,
			Side:      side,
			Price:     price,
			Size:      res.Remaining,
			CreatedAt: now,
		})
		if err != nil {
			return nil, err
		}
		rested = true
	}
	t.addTrades(res.Fills, now)

	err = a.commit(t, transfer{
		from:   owner,
		to:     m.Vault(lockAsset),
		asset:  m.Asset(lockAsset),
		amount: lockAmount,
	})
	if err != nil {
		return nil, err
	}

	a.log.Infow("order_placed",
		"market", m.ID.Hex(),
		"owner", owner.Hex(),
		"order_id", orderID,
		"side", side.String(),
		"price", price,
		"size", size,
		"fills", len(res.Fills),
		"remaining", res.Remaining,
		"rested", rested,
	)

	return &PlaceResult{
		OrderID:   orderID,
		Fills:     res.Fills,
		Remaining: res.Remaining,
		Rested:    rested,
		Locked:    lockAmount,
	}, nil
}

// CancelOrder removes an owner's resting order and pays its backing straight from the
// vault back to the owner: price*remaining quote for a bid, remaining base for an ask.
// The refund never passes through the free field.
func (a *App) CancelOrder(marketID, owner common.Address, orderID uint64, isBid bool) (*CancelResult, error) {
	st, err := a.state(marketID)
	if err != nil {
		return nil, err
	}
	m := st.market
	if err := checkOwner(m, owner); err != nil {
		return nil, err
	}
	side := orderbook.SideOf(isBid)

	t := begin(st)
	o, err := t.book(side).Remove(orderID, owner)
	if err != nil {
		return nil, err
	}

	asset, refund, err := lockFor(side, o.Price, o.Size)
	if err != nil {
		return nil, err
	}
	if err := t.record(owner).Unlock(asset, refund); err != nil {
		return nil, err
	}

	err = a.commit(t, transfer{
		from:   m.Vault(asset),
		to:     owner,
		asset:  m.Asset(asset),
		amount: refund,
	})
	if err != nil {
		return nil, err
	}

	a.log.Infow("order_cancelled",
		"market", m.ID.Hex(),
		"owner", owner.Hex(),
		"order_id", orderID,
		"side", side.String(),
		"refund", refund,
		"asset", asset.String(),
	)

	return &CancelResult{Order: o, Asset: asset.String(), Refund: refund}, nil
}
