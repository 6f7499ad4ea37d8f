package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/rapidflow/pkg/app/core/custody"
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/market"
	"github.com/uhyunpark/rapidflow/pkg/app/core/matching"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
)

var (
	baseAsset  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	quoteAsset = common.HexToAddress("0x2222222222222222222222222222222222222222")
	alice      = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob        = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func openStore(t *testing.T, dir string) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(dir, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func testMarket(t *testing.T) *market.Market {
	t.Helper()
	m, err := market.New(baseAsset, quoteAsset, 0, 1000)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return m
}

func TestCommitAndLoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	m := testMarket(t)

	if err := s.Commit(&Changes{MarketID: m.ID, Market: m, NextOrderID: 1}); err != nil {
		t.Fatalf("commit init: %v", err)
	}

	bids := []orderbook.Order{{ID: 1, Owner: alice, Side: orderbook.Bid, Price: 100, Size: 5}}
	rec := ledger.Record{Market: m.ID, Owner: alice, QuoteLocked: 500}
	err := s.Commit(&Changes{
		MarketID:    m.ID,
		Books:       map[orderbook.Side][]orderbook.Order{orderbook.Bid: bids},
		Records:     []ledger.Record{rec},
		NextOrderID: 2,
	})
	if err != nil {
		t.Fatalf("commit place: %v", err)
	}

	// reopen to prove durability
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s = openStore(t, dir)
	t.Cleanup(func() { s.Close() })

	markets, err := s.LoadMarkets()
	if err != nil {
		t.Fatalf("load markets: %v", err)
	}
	if len(markets) != 1 || markets[0].ID != m.ID {
		t.Fatalf("markets = %+v", markets)
	}
	if markets[0].BaseVault != m.BaseVault || markets[0].BookCapacity != m.BookCapacity {
		t.Errorf("market round trip = %+v, want %+v", markets[0], m)
	}

	snap, err := s.LoadSnapshot(m.ID, 10)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.NextOrderID != 2 {
		t.Errorf("next order id = %d, want 2", snap.NextOrderID)
	}
	if len(snap.Bids) != 1 || snap.Bids[0] != bids[0] {
		t.Errorf("bids = %+v, want %+v", snap.Bids, bids)
	}
	if len(snap.Asks) != 0 {
		t.Errorf("asks = %+v, want none", snap.Asks)
	}
	if len(snap.Records) != 1 || snap.Records[0] != rec {
		t.Errorf("records = %+v, want %+v", snap.Records, rec)
	}
}

func TestCommitEmptyBookOverwrites(t *testing.T) {
	s := openStore(t, t.TempDir())
	t.Cleanup(func() { s.Close() })
	m := testMarket(t)

	asks := []orderbook.Order{{ID: 1, Owner: bob, Side: orderbook.Ask, Price: 5, Size: 2}}
	if err := s.Commit(&Changes{MarketID: m.ID, Market: m, Books: map[orderbook.Side][]orderbook.Order{orderbook.Ask: asks}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(&Changes{MarketID: m.ID, Books: map[orderbook.Side][]orderbook.Order{orderbook.Ask: nil}}); err != nil {
		t.Fatal(err)
	}

	snap, err := s.LoadSnapshot(m.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Asks) != 0 {
		t.Errorf("asks = %+v, want empty", snap.Asks)
	}
}

func TestLoadRecentTrades(t *testing.T) {
	s := openStore(t, t.TempDir())
	t.Cleanup(func() { s.Close() })
	m := testMarket(t)

	var trades []matching.Trade
	for seq := uint64(1); seq <= 12; seq++ {
		trades = append(trades, matching.Trade{
			Seq:    seq,
			Market: m.ID,
			Fill:   matching.Fill{MakerOrderID: seq, TakerOrderID: seq + 100, Price: 5, BaseAmount: 1, QuoteAmount: 5},
		})
	}
	if err := s.Commit(&Changes{MarketID: m.ID, Market: m, Trades: trades}); err != nil {
		t.Fatal(err)
	}

	recent, err := s.LoadRecentTrades(m.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d trades, want 3", len(recent))
	}
	for i, want := range []uint64{12, 11, 10} {
		if recent[i].Seq != want {
			t.Errorf("recent[%d].Seq = %d, want %d", i, recent[i].Seq, want)
		}
	}

	snap, err := s.LoadSnapshot(m.ID, 5)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastTrade != 12 {
		t.Errorf("last trade = %d, want 12", snap.LastTrade)
	}
	if len(snap.Trades) != 5 || snap.Trades[0].Seq != 8 || snap.Trades[4].Seq != 12 {
		t.Errorf("snapshot trades not oldest-first window: %+v", snap.Trades)
	}
}

func TestLoadSnapshotUnknownMarket(t *testing.T) {
	s := openStore(t, t.TempDir())
	t.Cleanup(func() { s.Close() })

	if _, err := s.LoadSnapshot(common.HexToAddress("0x01"), 10); err == nil {
		t.Error("expected error for unknown market")
	}
}

func TestTradeKeysSortBySequence(t *testing.T) {
	id := common.HexToAddress("0x01")
	if string(tradeKey(id, 9)) >= string(tradeKey(id, 10)) {
		t.Error("trade keys must sort numerically")
	}
	if string(keyUpperBound(tradePrefix(id))) <= string(tradeKey(id, ^uint64(0))) {
		t.Error("upper bound must cover every trade key")
	}
}

func TestBankBalancesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	m := testMarket(t)

	bank, err := custody.NewPersistentBank(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := bank.Mint(alice, quoteAsset, 100); err != nil {
		t.Fatal(err)
	}
	if err := bank.Move(alice, m.QuoteVault, quoteAsset, 40); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openStore(t, dir)
	defer s.Close()

	saved, err := s.LoadBalances()
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 2 {
		t.Fatalf("balances = %+v, want 2 entries", saved)
	}

	reopened, err := custody.NewPersistentBank(s)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Balance(alice, quoteAsset); got != 60 {
		t.Errorf("alice = %d, want 60", got)
	}
	if got := reopened.Balance(m.QuoteVault, quoteAsset); got != 40 {
		t.Errorf("vault = %d, want 40", got)
	}
}
