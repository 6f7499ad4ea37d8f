package spot

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/rapidflow/pkg/storage"
)

// txn is the scratch state of one entry point. Books are cloned and records copied
// on first touch; nothing reaches the market until apply.
type txn struct {
	st *marketState

	books   map[orderbook.Side]*orderbook.Book
	records map[common.Address]*ledger.Record

	nextOrderID uint64
	tradeSeq    uint64
	trades      []matching.Trade
}

// transfer is one custody move made by an entry point
type transfer struct {
	from, to, asset common.Address
	amount          int64
}

func (t transfer) reverse() transfer {
	return transfer{from: t.to, to: t.from, asset: t.asset, amount: t.amount}
}

func begin(st *marketState) *txn {
	return &txn{
		st:          st,
		books:       make(map[orderbook.Side]*orderbook.Book, 2),
		records:     make(map[common.Address]*ledger.Record),
		nextOrderID: st.nextOrderID,
		tradeSeq:    st.tradeSeq,
	}
}

func (t *txn) book(side orderbook.Side) *orderbook.Book {
	if b, ok := t.books[side]; ok {
		return b
	}
	b := t.st.book(side).Clone()
	t.books[side] = b
	return b
}

// record returns the scratch copy of owner's record, zero if the owner has none yet
func (t *txn) record(owner common.Address) *ledger.Record {
	if rec, ok := t.records[owner]; ok {
		return rec
	}
	rec := ledger.NewRecord(t.st.market.ID, owner)
	if cur, ok := t.st.records[owner]; ok {
		*rec = *cur
	}
	t.records[owner] = rec
	return rec
}

func (t *txn) allocOrderID() uint64 {
	id := t.nextOrderID
	t.nextOrderID++
	return id
}

func (t *txn) addTrades(fills []matching.Fill, ts int64) {
	for _, f := range fills {
		t.tradeSeq++
		t.trades = append(t.trades, matching.Trade{
			Seq:       t.tradeSeq,
			Market:    t.st.market.ID,
			Timestamp: ts,
			Fill:      f,
		})
	}
}

// changes describes the txn for the store
func (t *txn) changes() *storage.Changes {
	c := &storage.Changes{
		MarketID: t.st.market.ID,
		Trades:   t.trades,
	}
	if len(t.books) > 0 {
		c.Books = make(map[orderbook.Side][]orderbook.Order, len(t.books))
		for side, b := range t.books {
			c.Books[side] = b.Orders()
		}
	}
	for _, rec := range sortedRecords(t.records) {
		c.Records = append(c.Records, *rec)
	}
	if t.nextOrderID != t.st.nextOrderID {
		c.NextOrderID = t.nextOrderID
	}
	return c
}

// apply swaps the scratch state into the market
func (t *txn) apply(history int) {
	st := t.st
	if b, ok := t.books[orderbook.Bid]; ok {
		st.bids = b
	}
	if b, ok := t.books[orderbook.Ask]; ok {
		st.asks = b
	}
	for owner, rec := range t.records {
		st.records[owner] = rec
	}
	st.nextOrderID = t.nextOrderID
	st.tradeSeq = t.tradeSeq

	st.trades = append(st.trades, t.trades...)
	if over := len(st.trades) - history; over > 0 {
		st.trades = append(st.trades[:0:0], st.trades[over:]...)
	}
}

// commit finishes t: custody transfers run first, then the store batch, then the
// in-memory swap. A failed transfer undoes the earlier ones; a failed batch undoes all
// of them.
func (a *App) commit(t *txn, transfers ...transfer) error {
	for i, tr := range transfers {
		if err := a.mover.Move(tr.from, tr.to, tr.asset, tr.amount); err != nil {
			a.rollback(transfers[:i])
			return err
		}
	}

	if a.store != nil {
		if err := a.store.Commit(t.changes()); err != nil {
			a.rollback(transfers)
			return fmt.Errorf("persist market %s: %w", t.st.market.ID.Hex(), err)
		}
	}

	t.apply(a.cfg.TradeHistory)

	if len(t.trades) > 0 {
		for _, h := range a.onTrades {
			h(t.st.market, t.trades)
		}
	}
	return nil
}

// rollback reverses completed transfers, newest first
func (a *App) rollback(done []transfer) {
	for i := len(done) - 1; i >= 0; i-- {
		r := done[i].reverse()
		if err := a.mover.Move(r.from, r.to, r.asset, r.amount); err != nil {
			// the vault and the ledger no longer agree; Audit will report it
			a.log.Errorw("compensating_transfer_failed",
				"from", r.from.Hex(),
				"to", r.to.Hex(),
				"asset", r.asset.Hex(),
				"amount", r.amount,
				"error", err,
			)
		}
	}
}

func sortedRecords(m map[common.Address]*ledger.Record) []*ledger.Record {
	out := make([]*ledger.Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Owner.Bytes(), out[j].Owner.Bytes()) < 0
	})
	return out
}
