package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

var (
	market = common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
)

func TestNewRecordIsEmpty(t *testing.T) {
	r := NewRecord(market, alice)
	if !r.IsEmpty() {
		t.Errorf("new record not empty: %+v", r)
	}
	if r.Market != market || r.Owner != alice {
		t.Errorf("identity = %s/%s", r.Market.Hex(), r.Owner.Hex())
	}
	if err := r.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestRecordLockUnlock(t *testing.T) {
	r := NewRecord(market, alice)

	if err := r.Lock(Quote, 500); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if r.QuoteLocked != 500 || r.Total(Quote) != 500 {
		t.Errorf("quote locked = %d total = %d", r.QuoteLocked, r.Total(Quote))
	}
	if err := r.Lock(Quote, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero lock: got %v", err)
	}

	if err := r.Unlock(Quote, 600); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("over-unlock: got %v", err)
	}
	if err := r.Unlock(Quote, 200); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if r.QuoteLocked != 300 {
		t.Errorf("quote locked = %d, want 300", r.QuoteLocked)
	}
	if r.QuoteFree != 0 {
		t.Errorf("unlock must bypass free, got %d", r.QuoteFree)
	}
}

func TestRecordExchange(t *testing.T) {
	r := NewRecord(market, alice)
	if err := r.Lock(Quote, 500); err != nil {
		t.Fatal(err)
	}

	// bought 2 base for 200 quote
	if err := r.Exchange(Quote, 200, 2); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if r.QuoteLocked != 300 || r.BaseFree != 2 {
		t.Errorf("record = %+v, want quote locked 300 base free 2", r)
	}

	if err := r.Exchange(Quote, 400, 4); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("over-exchange: got %v", err)
	}
	if r.QuoteLocked != 300 || r.BaseFree != 2 {
		t.Errorf("failed exchange mutated record: %+v", r)
	}
}

func TestRecordExchangeOverflowLeavesRecord(t *testing.T) {
	r := NewRecord(market, alice)
	r.BaseFree = math.MaxInt64
	r.QuoteLocked = 10

	if err := r.Exchange(Quote, 10, 1); !errors.Is(err, util.ErrMathOverflow) {
		t.Fatalf("got %v, want ErrMathOverflow", err)
	}
	if r.QuoteLocked != 10 {
		t.Errorf("quote locked = %d, want 10", r.QuoteLocked)
	}
}

func TestRecordRelease(t *testing.T) {
	r := NewRecord(market, alice)
	if err := r.Lock(Base, 7); err != nil {
		t.Fatal(err)
	}
	if err := r.Release(Base, 3); err != nil {
		t.Fatalf("release: %v", err)
	}
	if r.BaseLocked != 4 || r.BaseFree != 3 {
		t.Errorf("record = %+v", r)
	}
	if err := r.Release(Base, 5); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("over-release: got %v", err)
	}
}

func TestRecordWithdraw(t *testing.T) {
	tests := []struct {
		name    string
		free    int64
		amount  int64
		wantErr error
		after   int64
	}{
		{name: "exact", free: 10, amount: 10, after: 0},
		{name: "partial", free: 10, amount: 4, after: 6},
		{name: "zero amount", free: 10, amount: 0, wantErr: ErrInvalidAmount, after: 10},
		{name: "negative amount", free: 10, amount: -1, wantErr: ErrInvalidAmount, after: 10},
		{name: "more than free", free: 10, amount: 11, wantErr: ErrInsufficientFunds, after: 10},
		{name: "nothing free", free: 0, amount: 1, wantErr: ErrNoFundsToSettle, after: 0},
		{name: "nothing free zero amount", free: 0, amount: 0, wantErr: ErrInvalidAmount, after: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord(market, alice)
			r.QuoteFree = tt.free
			err := r.Withdraw(Quote, tt.amount)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if r.QuoteFree != tt.after {
				t.Errorf("free = %d, want %d", r.QuoteFree, tt.after)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	r := NewRecord(market, alice)
	r.BaseLocked = -1
	if err := r.Validate(); err == nil {
		t.Error("expected negative locked to fail validation")
	}
}

func TestAssetHelpers(t *testing.T) {
	if AssetOf(true) != Base || AssetOf(false) != Quote {
		t.Error("AssetOf mapping")
	}
	if Base.Other() != Quote || Quote.Other() != Base {
		t.Error("Other mapping")
	}
}
