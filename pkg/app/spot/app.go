// Package spot is the market controller of the exchange.
//
// App owns every market's two books and its ledger records and exposes the entry
// points (initialize, place, cancel, settle). Each entry point works on scratch copies
// of the state it touches, calls the custody mover once everything else validated,
// persists the result in one batch and only then swaps the copies in. A failing call
// leaves books, records and vaults exactly as they were.
//
// App takes no locks. The host must serialize calls against the same App.
package spot

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/rapidflow/pkg/app/core/custody"
	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/market"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
	"github.com/uhyunpark/rapidflow/pkg/storage"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

// DefaultTradeHistory is how many recent trades each market keeps in memory
const DefaultTradeHistory = 1000

// Store persists controller state. *storage.PebbleStore implements it.
type Store interface {
	Commit(c *storage.Changes) error
	LoadMarkets() ([]*market.Market, error)
	LoadSnapshot(id common.Address, tradeLimit int) (*storage.Snapshot, error)
}

// TradeHandler is called after trades are committed
type TradeHandler func(m *market.Market, trades []matching.Trade)

type Config struct {
	BookCapacity int // per side, 0 means orderbook.DefaultCapacity
	TradeHistory int // 0 means DefaultTradeHistory
}

type App struct {
	cfg      Config
	registry *market.Registry
	markets  map[common.Address]*marketState

	mover custody.Mover
	store Store // nil runs in memory only
	clock util.Clock
	log   *zap.SugaredLogger

	onTrades []TradeHandler
}

// marketState is everything the controller owns for one market
type marketState struct {
	market  *market.Market
	bids    *orderbook.Book
	asks    *orderbook.Book
	records map[common.Address]*ledger.Record

	nextOrderID uint64
	tradeSeq    uint64
	trades      []matching.Trade // oldest first, bounded
}

func (s *marketState) book(side orderbook.Side) *orderbook.Book {
	if side == orderbook.Bid {
		return s.bids
	}
	return s.asks
}

// NewApp creates a controller. store may be nil; clock and log default to the real
// clock and a no-op logger.
func NewApp(cfg Config, mover custody.Mover, store Store, clock util.Clock, log *zap.Logger) *App {
	if cfg.TradeHistory <= 0 {
		cfg.TradeHistory = DefaultTradeHistory
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		cfg:      cfg,
		registry: market.NewRegistry(),
		markets:  make(map[common.Address]*marketState),
		mover:    mover,
		store:    store,
		clock:    clock,
		log:      log.Named("spot").Sugar(),
	}
}

// OnTrades registers a handler for committed trades
func (a *App) OnTrades(h TradeHandler) {
	a.onTrades = append(a.onTrades, h)
}

func (a *App) now() int64 {
	return a.clock.Now().UnixMilli()
}

func (a *App) state(id common.Address) (*marketState, error) {
	st, ok := a.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrMarketNotFound, id.Hex())
	}
	return st, nil
}

// checkOwner refuses the market's own vaults as traders. A vault moving funds to
// itself would leave the ledger and the vault balances out of step.
func checkOwner(m *market.Market, owner common.Address) error {
	if owner == m.BaseVault || owner == m.QuoteVault {
		return fmt.Errorf("%w: %s is a vault of %s", errs.ErrUnauthorized, owner.Hex(), m.ID.Hex())
	}
	return nil
}

// Initialize creates the market for (base, quote) with empty books and derived vaults
func (a *App) Initialize(base, quote common.Address) (*market.Market, error) {
	m, err := market.New(base, quote, a.cfg.BookCapacity, a.now())
	if err != nil {
		return nil, err
	}
	if a.registry.Exists(m.ID) {
		return nil, fmt.Errorf("%w: %s", errs.ErrMarketExists, m.ID.Hex())
	}

	st := &marketState{
		market:      m,
		bids:        orderbook.NewBook(orderbook.Bid, m.BookCapacity),
		asks:        orderbook.NewBook(orderbook.Ask, m.BookCapacity),
		records:     make(map[common.Address]*ledger.Record),
		nextOrderID: 1,
	}

	if a.store != nil {
		err := a.store.Commit(&storage.Changes{
			MarketID: m.ID,
			Market:   m,
			Books: map[orderbook.Side][]orderbook.Order{
				orderbook.Bid: nil,
				orderbook.Ask: nil,
			},
			NextOrderID: st.nextOrderID,
		})
		if err != nil {
			return nil, fmt.Errorf("persist market %s: %w", m.ID.Hex(), err)
		}
	}

	if err := a.registry.Register(m); err != nil {
		return nil, err
	}
	a.markets[m.ID] = st

	a.log.Infow("market_initialized",
		"market", m.ID.Hex(),
		"base", m.BaseAsset.Hex(),
		"quote", m.QuoteAsset.Hex(),
		"base_vault", m.BaseVault.Hex(),
		"quote_vault", m.QuoteVault.Hex(),
		"capacity", m.BookCapacity,
	)
	return m, nil
}

// Restore loads every persisted market. Call once, before any other entry point.
func (a *App) Restore() error {
	if a.store == nil {
		return nil
	}
	markets, err := a.store.LoadMarkets()
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	for _, m := range markets {
		snap, err := a.store.LoadSnapshot(m.ID, a.cfg.TradeHistory)
		if err != nil {
			return fmt.Errorf("load market %s: %w", m.ID.Hex(), err)
		}

		st := &marketState{
			market:      m,
			bids:        orderbook.NewBook(orderbook.Bid, m.BookCapacity),
			asks:        orderbook.NewBook(orderbook.Ask, m.BookCapacity),
			records:     make(map[common.Address]*ledger.Record, len(snap.Records)),
			nextOrderID: max(snap.NextOrderID, 1),
			tradeSeq:    snap.LastTrade,
			trades:      snap.Trades,
		}
		for _, o := range snap.Bids {
			if err := st.bids.Insert(o); err != nil {
				return fmt.Errorf("restore bid %d in %s: %w", o.ID, m.ID.Hex(), err)
			}
		}
		for _, o := range snap.Asks {
			if err := st.asks.Insert(o); err != nil {
				return fmt.Errorf("restore ask %d in %s: %w", o.ID, m.ID.Hex(), err)
			}
		}
		for i := range snap.Records {
			rec := snap.Records[i]
			st.records[rec.Owner] = &rec
		}

		if err := a.registry.Register(m); err != nil {
			return err
		}
		a.markets[m.ID] = st

		a.log.Infow("market_restored",
			"market", m.ID.Hex(),
			"bids", st.bids.Len(),
			"asks", st.asks.Len(),
			"records", len(st.records),
			"next_order_id", st.nextOrderID,
			"trade_seq", st.tradeSeq,
		)
	}
	return nil
}

// Market returns the descriptor of a market
func (a *App) Market(id common.Address) (*market.Market, error) {
	return a.registry.Get(id)
}

// Markets lists all markets, oldest first
func (a *App) Markets() []*market.Market {
	return a.registry.List()
}

// Orders returns one side's resting orders in priority order
func (a *App) Orders(id common.Address, side orderbook.Side) ([]orderbook.Order, error) {
	st, err := a.state(id)
	if err != nil {
		return nil, err
	}
	return st.book(side).Orders(), nil
}

// Depth returns aggregated price levels of both sides, best first
func (a *App) Depth(id common.Address) (bids, asks []orderbook.PriceLevel, err error) {
	st, err := a.state(id)
	if err != nil {
		return nil, nil, err
	}
	return st.bids.Levels(), st.asks.Levels(), nil
}

// Record returns a copy of an owner's ledger record and whether it exists
func (a *App) Record(id, owner common.Address) (ledger.Record, bool, error) {
	st, err := a.state(id)
	if err != nil {
		return ledger.Record{}, false, err
	}
	rec, ok := st.records[owner]
	if !ok {
		return *ledger.NewRecord(id, owner), false, nil
	}
	return *rec, true, nil
}

// RecentTrades returns up to limit trades, newest first
func (a *App) RecentTrades(id common.Address, limit int) ([]matching.Trade, error) {
	st, err := a.state(id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(st.trades) {
		limit = len(st.trades)
	}
	out := make([]matching.Trade, 0, limit)
	for i := len(st.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, st.trades[i])
	}
	return out, nil
}

// StateHash computes a deterministic hash of every market's books and records.
//
// Per market, in registry order:
//  1. Market id and next order id
//  2. Bids then asks, best first: id, owner, price, size
//  3. Records sorted by owner: owner and the four balance fields
func (a *App) StateHash() [32]byte {
	h := sha256.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	for _, m := range a.registry.List() {
		st := a.markets[m.ID]
		h.Write(m.ID.Bytes())
		put(st.nextOrderID)

		for _, side := range []orderbook.Side{orderbook.Bid, orderbook.Ask} {
			for _, o := range st.book(side).Orders() {
				put(o.ID)
				h.Write(o.Owner.Bytes())
				put(uint64(o.Price))
				put(uint64(o.Size))
			}
		}

		for _, rec := range sortedRecords(st.records) {
			h.Write(rec.Owner.Bytes())
			put(uint64(rec.BaseFree))
			put(uint64(rec.BaseLocked))
			put(uint64(rec.QuoteFree))
			put(uint64(rec.QuoteLocked))
		}
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
