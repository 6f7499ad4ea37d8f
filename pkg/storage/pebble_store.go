package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/rapidflow/pkg/app/core/custody"
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/market"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
)

// Changes is everything one controller call mutated in one market.
// Commit writes it in a single Pebble batch so a call is durable all-or-nothing.
type Changes struct {
	MarketID common.Address

	// Market is set only by initialization
	Market *market.Market

	// Books holds the full new contents of each side that changed
	Books map[orderbook.Side][]orderbook.Order

	Records []ledger.Record
	Trades  []matching.Trade

	// NextOrderID is written when non-zero
	NextOrderID uint64
}

// Snapshot is the persisted state of one market
type Snapshot struct {
	Market      *market.Market
	Bids        []orderbook.Order
	Asks        []orderbook.Order
	Records     []ledger.Record
	NextOrderID uint64
	LastTrade   uint64           // highest trade sequence stored
	Trades      []matching.Trade // most recent, oldest first
}

// PebbleStore persists markets, books, ledger records and trades
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string, log *zap.Logger) (*PebbleStore, error) {
	cache := pebble.NewCache(64 << 20) // 64MB cache
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                    cache,
		MemTableSize:             32 << 20, // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}
	if log != nil {
		opts.Logger = log.Named("pebble").Sugar()
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Commit writes c atomically
func (s *PebbleStore) Commit(c *Changes) error {
	b := s.db.NewBatch()
	defer b.Close()

	if c.Market != nil {
		data, err := encodeJSON(c.Market)
		if err != nil {
			return err
		}
		if err := b.Set(marketKey(c.MarketID), data, nil); err != nil {
			return err
		}
	}

	for side, orders := range c.Books {
		if orders == nil {
			orders = []orderbook.Order{}
		}
		data, err := encodeJSON(orders)
		if err != nil {
			return err
		}
		if err := b.Set(bookKey(c.MarketID, side), data, nil); err != nil {
			return err
		}
	}

	for i := range c.Records {
		rec := &c.Records[i]
		data, err := encodeJSON(rec)
		if err != nil {
			return err
		}
		if err := b.Set(recordKey(c.MarketID, rec.Owner), data, nil); err != nil {
			return err
		}
	}

	for i := range c.Trades {
		tr := &c.Trades[i]
		data, err := encodeJSON(tr)
		if err != nil {
			return err
		}
		if err := b.Set(tradeKey(c.MarketID, tr.Seq), data, nil); err != nil {
			return err
		}
	}

	if c.NextOrderID != 0 {
		if err := b.Set(seqKey(c.MarketID), encodeUint64(c.NextOrderID), nil); err != nil {
			return err
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch for market %s: %w", c.MarketID.Hex(), err)
	}
	return nil
}

// LoadMarkets loads every market descriptor
func (s *PebbleStore) LoadMarkets() ([]*market.Market, error) {
	prefix := []byte(prefixMarket)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var markets []*market.Market
	for iter.First(); iter.Valid(); iter.Next() {
		var m market.Market
		if err := decodeJSON(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("market key %s: %w", iter.Key(), err)
		}
		markets = append(markets, &m)
	}
	return markets, iter.Error()
}

// LoadSnapshot loads the full state of one market plus up to tradeLimit recent trades
func (s *PebbleStore) LoadSnapshot(id common.Address, tradeLimit int) (*Snapshot, error) {
	snap := &Snapshot{}

	var m market.Market
	found, err := s.get(marketKey(id), func(v []byte) error { return decodeJSON(v, &m) })
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("market %s not stored", id.Hex())
	}
	snap.Market = &m

	if _, err := s.get(bookKey(id, orderbook.Bid), func(v []byte) error { return decodeJSON(v, &snap.Bids) }); err != nil {
		return nil, err
	}
	if _, err := s.get(bookKey(id, orderbook.Ask), func(v []byte) error { return decodeJSON(v, &snap.Asks) }); err != nil {
		return nil, err
	}
	if _, err := s.get(seqKey(id), func(v []byte) (err error) {
		snap.NextOrderID, err = decodeUint64(v)
		return err
	}); err != nil {
		return nil, err
	}

	if snap.Records, err = s.loadRecords(id); err != nil {
		return nil, err
	}

	// at least one trade is read so the sequence survives a zero limit
	recent, err := s.LoadRecentTrades(id, max(tradeLimit, 1))
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		snap.LastTrade = recent[0].Seq
	}
	if len(recent) > tradeLimit {
		recent = recent[:max(tradeLimit, 0)]
	}
	// newest first from the scan; callers want chronological order
	for i := len(recent) - 1; i >= 0; i-- {
		snap.Trades = append(snap.Trades, *recent[i])
	}
	return snap, nil
}

// LoadRecentTrades loads the most recent N trades of a market, newest first
func (s *PebbleStore) LoadRecentTrades(id common.Address, limit int) ([]*matching.Trade, error) {
	prefix := tradePrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*matching.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var tr matching.Trade
		if err := decodeJSON(iter.Value(), &tr); err != nil {
			return nil, fmt.Errorf("trade key %s: %w", iter.Key(), err)
		}
		trades = append(trades, &tr)
	}
	return trades, iter.Error()
}

// SaveBalances writes custody balances in one batch
func (s *PebbleStore) SaveBalances(bs []custody.Balance) error {
	b := s.db.NewBatch()
	defer b.Close()

	for i := range bs {
		data, err := encodeJSON(&bs[i])
		if err != nil {
			return err
		}
		if err := b.Set(balanceKey(bs[i].Holder, bs[i].Asset), data, nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

// LoadBalances loads every custody balance
func (s *PebbleStore) LoadBalances() ([]custody.Balance, error) {
	prefix := []byte(prefixBal)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var balances []custody.Balance
	for iter.First(); iter.Valid(); iter.Next() {
		var bal custody.Balance
		if err := decodeJSON(iter.Value(), &bal); err != nil {
			return nil, fmt.Errorf("balance key %s: %w", iter.Key(), err)
		}
		balances = append(balances, bal)
	}
	return balances, iter.Error()
}

func (s *PebbleStore) loadRecords(id common.Address) ([]ledger.Record, error) {
	prefix := recordPrefix(id)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var records []ledger.Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec ledger.Record
		if err := decodeJSON(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("record key %s: %w", iter.Key(), err)
		}
		records = append(records, rec)
	}
	return records, iter.Error()
}

// get calls decode with the value stored at key and reports whether it existed
func (s *PebbleStore) get(key []byte, decode func([]byte) error) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	if err := decode(data); err != nil {
		return true, fmt.Errorf("key %s: %w", key, err)
	}
	return true, nil
}

var _ custody.BalanceStore = (*PebbleStore)(nil)
