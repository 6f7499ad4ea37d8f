package orderbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func mustInsert(t *testing.T, b *Book, o Order) {
	t.Helper()
	if err := b.Insert(o); err != nil {
		t.Fatalf("insert %d: %v", o.ID, err)
	}
}

func ids(orders []Order) []uint64 {
	out := make([]uint64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBookPriority(t *testing.T) {
	tests := []struct {
		name   string
		side   Side
		orders []Order
		want   []uint64
	}{
		{
			name: "bids highest price first",
			side: Bid,
			orders: []Order{
				{ID: 1, Owner: alice, Price: 100, Size: 1},
				{ID: 2, Owner: bob, Price: 105, Size: 1},
				{ID: 3, Owner: alice, Price: 95, Size: 1},
			},
			want: []uint64{2, 1, 3},
		},
		{
			name: "asks lowest price first",
			side: Ask,
			orders: []Order{
				{ID: 1, Owner: alice, Price: 100, Size: 1},
				{ID: 2, Owner: bob, Price: 105, Size: 1},
				{ID: 3, Owner: alice, Price: 95, Size: 1},
			},
			want: []uint64{3, 1, 2},
		},
		{
			name: "equal price breaks ties by lowest id",
			side: Bid,
			orders: []Order{
				{ID: 7, Owner: alice, Price: 100, Size: 1},
				{ID: 4, Owner: bob, Price: 100, Size: 1},
				{ID: 9, Owner: bob, Price: 100, Size: 1},
			},
			want: []uint64{4, 7, 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook(tt.side, 10)
			for _, o := range tt.orders {
				mustInsert(t, b, o)
			}
			if got := ids(b.Orders()); !equalIDs(got, tt.want) {
				t.Errorf("orders = %v, want %v", got, tt.want)
			}
			best, ok := b.PeekBest()
			if !ok || best.ID != tt.want[0] {
				t.Errorf("PeekBest = %d (ok=%v), want %d", best.ID, ok, tt.want[0])
			}
			if best.Side != tt.side {
				t.Errorf("side = %s, want %s", best.Side, tt.side)
			}
		})
	}
}

func TestBookInsertValidation(t *testing.T) {
	b := NewBook(Ask, 2)

	if err := b.Insert(Order{ID: 1, Owner: alice, Price: 0, Size: 1}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero price: got %v, want ErrInvalidAmount", err)
	}
	if err := b.Insert(Order{ID: 1, Owner: alice, Price: 10, Size: -1}); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative size: got %v, want ErrInvalidAmount", err)
	}

	mustInsert(t, b, Order{ID: 1, Owner: alice, Price: 10, Size: 1})
	if err := b.Insert(Order{ID: 1, Owner: bob, Price: 11, Size: 1}); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("duplicate: got %v, want ErrDuplicateOrder", err)
	}
	mustInsert(t, b, Order{ID: 2, Owner: bob, Price: 11, Size: 1})

	if err := b.Insert(Order{ID: 3, Owner: bob, Price: 12, Size: 1}); !errors.Is(err, ErrBookFull) {
		t.Errorf("full book: got %v, want ErrBookFull", err)
	}
	if b.Len() != 2 {
		t.Errorf("len = %d, want 2", b.Len())
	}
}

func TestBookPeekEmpty(t *testing.T) {
	b := NewBook(Bid, 0)
	if _, ok := b.PeekBest(); ok {
		t.Error("expected empty book")
	}
	if b.Cap() != DefaultCapacity {
		t.Errorf("cap = %d, want %d", b.Cap(), DefaultCapacity)
	}
}

func TestBookReduceOrRemove(t *testing.T) {
	b := NewBook(Ask, 10)
	mustInsert(t, b, Order{ID: 1, Owner: alice, Price: 100, Size: 5})
	mustInsert(t, b, Order{ID: 2, Owner: bob, Price: 101, Size: 3})

	o, err := b.ReduceOrRemove(1, 2)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if o.Size != 3 {
		t.Errorf("remaining = %d, want 3", o.Size)
	}
	if got, _ := b.Get(1); got.Size != 3 {
		t.Errorf("stored size = %d, want 3", got.Size)
	}

	if _, err := b.ReduceOrRemove(1, 4); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("over-reduce: got %v, want ErrInvalidAmount", err)
	}
	if _, err := b.ReduceOrRemove(1, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero reduce: got %v, want ErrInvalidAmount", err)
	}

	o, err = b.ReduceOrRemove(1, 3)
	if err != nil {
		t.Fatalf("reduce to zero: %v", err)
	}
	if o.Size != 0 {
		t.Errorf("remaining = %d, want 0", o.Size)
	}
	if _, ok := b.Get(1); ok {
		t.Error("fully reduced order should be removed")
	}
	best, _ := b.PeekBest()
	if best.ID != 2 {
		t.Errorf("best = %d, want 2 after level emptied", best.ID)
	}

	if _, err := b.ReduceOrRemove(42, 1); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("missing: got %v, want ErrOrderNotFound", err)
	}
}

func TestBookRemove(t *testing.T) {
	b := NewBook(Bid, 10)
	mustInsert(t, b, Order{ID: 1, Owner: alice, Price: 100, Size: 5})
	mustInsert(t, b, Order{ID: 2, Owner: bob, Price: 100, Size: 5})

	if _, err := b.Remove(1, bob); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("foreign cancel: got %v, want ErrUnauthorized", err)
	}
	if _, err := b.Remove(3, alice); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("missing cancel: got %v, want ErrOrderNotFound", err)
	}

	o, err := b.Remove(1, alice)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if o.Price != 100 || o.Size != 5 {
		t.Errorf("removed order = %+v", o)
	}
	if got := ids(b.Orders()); !equalIDs(got, []uint64{2}) {
		t.Errorf("orders = %v, want [2]", got)
	}
}

func TestBookLevels(t *testing.T) {
	b := NewBook(Bid, 10)
	mustInsert(t, b, Order{ID: 1, Owner: alice, Price: 100, Size: 5})
	mustInsert(t, b, Order{ID: 2, Owner: bob, Price: 100, Size: 2})
	mustInsert(t, b, Order{ID: 3, Owner: bob, Price: 110, Size: 1})

	levels := b.Levels()
	want := []PriceLevel{{Price: 110, Size: 1, Orders: 1}, {Price: 100, Size: 7, Orders: 2}}
	if len(levels) != len(want) {
		t.Fatalf("levels = %+v, want %+v", levels, want)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("level %d = %+v, want %+v", i, levels[i], want[i])
		}
	}
}

func TestBookCloneIsIndependent(t *testing.T) {
	b := NewBook(Ask, 10)
	mustInsert(t, b, Order{ID: 1, Owner: alice, Price: 100, Size: 5})

	cp := b.Clone()
	if _, err := cp.ReduceOrRemove(1, 5); err != nil {
		t.Fatalf("reduce clone: %v", err)
	}
	mustInsert(t, cp, Order{ID: 2, Owner: bob, Price: 90, Size: 1})

	if o, ok := b.Get(1); !ok || o.Size != 5 {
		t.Errorf("original mutated: %+v ok=%v", o, ok)
	}
	if b.Len() != 1 || cp.Len() != 1 {
		t.Errorf("len original=%d clone=%d, want 1/1", b.Len(), cp.Len())
	}
	if best, _ := b.PeekBest(); best.ID != 1 {
		t.Errorf("original best = %d, want 1", best.ID)
	}
}
