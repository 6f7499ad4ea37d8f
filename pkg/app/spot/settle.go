package spot

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

// SettleResult reports what a settlement or reclaim moved
type SettleResult struct {
	Base   int64         `json:"base"`
	Quote  int64         `json:"quote"`
	Record ledger.Record `json:"record"` // after the call
}

// SettleFunds withdraws amount of one asset from the owner's free balance to the
// owner's external account.
//
// Checks run in order: ErrInvalidAmount for amount <= 0, ErrUnauthorized when owner is
// a market vault, ErrNoFundsToSettle when the free balance is zero (an owner without a
// record has zero), ErrInsufficientFunds when it is below amount.
func (a *App) SettleFunds(marketID, owner common.Address, isBase bool, amount int64) (*SettleResult, error) {
	asset := ledger.AssetOf(isBase)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: settle %d %s", errs.ErrInvalidAmount, amount, asset)
	}
	st, err := a.state(marketID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(st.market, owner); err != nil {
		return nil, err
	}
	if _, ok := st.records[owner]; !ok {
		return nil, fmt.Errorf("%w: %s has no record in %s", errs.ErrNoFundsToSettle, owner.Hex(), marketID.Hex())
	}
	m := st.market

	t := begin(st)
	rec := t.record(owner)
	if err := rec.Withdraw(asset, amount); err != nil {
		return nil, err
	}

	err = a.commit(t, transfer{
		from:   m.Vault(asset),
		to:     owner,
		asset:  m.Asset(asset),
		amount: amount,
	})
	if err != nil {
		return nil, err
	}

	a.log.Infow("funds_settled",
		"market", m.ID.Hex(),
		"owner", owner.Hex(),
		"asset", asset.String(),
		"amount", amount,
	)

	out := &SettleResult{Record: *rec}
	if asset == ledger.Base {
		out.Base = amount
	} else {
		out.Quote = amount
	}
	return out, nil
}

// SettleAll withdraws the owner's entire free base and free quote.
// Fails ErrNoFundsToSettle when both are zero.
func (a *App) SettleAll(marketID, owner common.Address) (*SettleResult, error) {
	st, err := a.state(marketID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(st.market, owner); err != nil {
		return nil, err
	}
	cur, ok := st.records[owner]
	if !ok || (cur.BaseFree == 0 && cur.QuoteFree == 0) {
		return nil, fmt.Errorf("%w: %s in %s", errs.ErrNoFundsToSettle, owner.Hex(), marketID.Hex())
	}
	m := st.market

	t := begin(st)
	rec := t.record(owner)
	out := &SettleResult{Base: rec.BaseFree, Quote: rec.QuoteFree}

	var transfers []transfer
	for _, asset := range []ledger.Asset{ledger.Base, ledger.Quote} {
		amount := rec.Free(asset)
		if amount == 0 {
			continue
		}
		if err := rec.Withdraw(asset, amount); err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer{
			from:   m.Vault(asset),
			to:     owner,
			asset:  m.Asset(asset),
			amount: amount,
		})
	}

	if err := a.commit(t, transfers...); err != nil {
		return nil, err
	}

	a.log.Infow("funds_settled_all",
		"market", m.ID.Hex(),
		"owner", owner.Hex(),
		"base", out.Base,
		"quote", out.Quote,
	)

	out.Record = *rec
	return out, nil
}

// Reclaim moves locked funds that back no resting order into free. This is where a
// bid's price-improvement excess ends up once the owner asks for it. Returns zeros
// when nothing is stranded.
func (a *App) Reclaim(marketID, owner common.Address) (*SettleResult, error) {
	st, err := a.state(marketID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(st.market, owner); err != nil {
		return nil, err
	}
	cur, ok := st.records[owner]
	if !ok {
		return &SettleResult{Record: *ledger.NewRecord(marketID, owner)}, nil
	}

	backBase, backQuote, err := backing(st, owner)
	if err != nil {
		return nil, err
	}
	excessBase := cur.BaseLocked - backBase
	excessQuote := cur.QuoteLocked - backQuote
	if excessBase < 0 || excessQuote < 0 {
		return nil, fmt.Errorf("%w: %s locked %d/%d backs %d/%d",
			errs.ErrInsufficientFunds, owner.Hex(), cur.BaseLocked, cur.QuoteLocked, backBase, backQuote)
	}
	if excessBase == 0 && excessQuote == 0 {
		return &SettleResult{Record: *cur}, nil
	}

	t := begin(st)
	rec := t.record(owner)
	if excessBase > 0 {
		if err := rec.Release(ledger.Base, excessBase); err != nil {
			return nil, err
		}
	}
	if excessQuote > 0 {
		if err := rec.Release(ledger.Quote, excessQuote); err != nil {
			return nil, err
		}
	}

	if err := a.commit(t); err != nil {
		return nil, err
	}

	a.log.Infow("locked_reclaimed",
		"market", marketID.Hex(),
		"owner", owner.Hex(),
		"base", excessBase,
		"quote", excessQuote,
	)
	return &SettleResult{Base: excessBase, Quote: excessQuote, Record: *rec}, nil
}

// backing sums what owner's resting orders require to be locked
func backing(st *marketState, owner common.Address) (base, quote int64, err error) {
	all, err := backingAll(st)
	if err != nil {
		return 0, 0, err
	}
	b := all[owner]
	return b[ledger.Base], b[ledger.Quote], nil
}

// backingAll is backing for every owner with a resting order on either side
func backingAll(st *marketState) (map[common.Address][2]int64, error) {
	out := make(map[common.Address][2]int64)
	for _, side := range []orderbook.Side{orderbook.Bid, orderbook.Ask} {
		for _, o := range st.book(side).Orders() {
			b := out[o.Owner]
			asset, amount, err := lockFor(side, o.Price, o.Size)
			if err != nil {
				return nil, err
			}
			if b[asset], err = util.CheckedAdd(b[asset], amount); err != nil {
				return nil, err
			}
			out[o.Owner] = b
		}
	}
	return out, nil
}
