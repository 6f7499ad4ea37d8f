package spot

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/rapidflow/pkg/app/core/custody"
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

// AuditReport compares a market's ledger with its vaults
type AuditReport struct {
	Market common.Address `json:"market"`

	BaseLedger  int64 `json:"baseLedger"` // sum of base free + locked over all records
	BaseVault   int64 `json:"baseVault"`
	QuoteLedger int64 `json:"quoteLedger"`
	QuoteVault  int64 `json:"quoteVault"`

	Records int `json:"records"`
	Orders  int `json:"orders"`

	Problems []string `json:"problems,omitempty"`
}

// OK reports whether the audit found nothing wrong
func (r *AuditReport) OK() bool { return len(r.Problems) == 0 }

// Err returns the problems as an error, nil when OK
func (r *AuditReport) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("audit of market %s failed: %v", r.Market.Hex(), r.Problems)
}

func (r *AuditReport) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Audit checks one market against vault balances read from vaults:
//   - per asset, the sum of free + locked over all records equals the vault balance
//   - no record field and no order size is negative
//   - every owner's locked funds cover their resting orders
func (a *App) Audit(id common.Address, vaults custody.BalanceReader) (*AuditReport, error) {
	st, err := a.state(id)
	if err != nil {
		return nil, err
	}
	m := st.market
	r := &AuditReport{
		Market:     id,
		BaseVault:  vaults.Balance(m.BaseVault, m.BaseAsset),
		QuoteVault: vaults.Balance(m.QuoteVault, m.QuoteAsset),
		Records:    len(st.records),
		Orders:     st.bids.Len() + st.asks.Len(),
	}

	for _, rec := range sortedRecords(st.records) {
		if err := rec.Validate(); err != nil {
			r.problem("record %s: %v", rec.Owner.Hex(), err)
			continue
		}
		if r.BaseLedger, err = util.CheckedAdd(r.BaseLedger, rec.Total(ledger.Base)); err != nil {
			r.problem("base sum: %v", err)
		}
		if r.QuoteLedger, err = util.CheckedAdd(r.QuoteLedger, rec.Total(ledger.Quote)); err != nil {
			r.problem("quote sum: %v", err)
		}
	}
	if r.BaseLedger != r.BaseVault {
		r.problem("base ledger %d != vault %d", r.BaseLedger, r.BaseVault)
	}
	if r.QuoteLedger != r.QuoteVault {
		r.problem("quote ledger %d != vault %d", r.QuoteLedger, r.QuoteVault)
	}

	for _, side := range []orderbook.Side{orderbook.Bid, orderbook.Ask} {
		for _, o := range st.book(side).Orders() {
			if o.Size <= 0 || o.Price <= 0 {
				r.problem("%s order %d has price %d size %d", side, o.ID, o.Price, o.Size)
			}
		}
	}

	backs, err := backingAll(st)
	if err != nil {
		r.problem("backing: %v", err)
	}
	for owner, b := range backs {
		rec, ok := st.records[owner]
		if !ok {
			r.problem("owner %s rests orders without a record", owner.Hex())
			continue
		}
		if rec.BaseLocked < b[ledger.Base] {
			r.problem("owner %s base locked %d < resting %d", owner.Hex(), rec.BaseLocked, b[ledger.Base])
		}
		if rec.QuoteLocked < b[ledger.Quote] {
			r.problem("owner %s quote locked %d < resting %d", owner.Hex(), rec.QuoteLocked, b[ledger.Quote])
		}
	}

	if !r.OK() {
		a.log.Warnw("audit_failed", "market", id.Hex(), "problems", r.Problems)
	}
	return r, nil
}
