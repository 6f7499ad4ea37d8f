// Package ledger holds the per-(market, owner) custody record.
//
// Every unit an owner has in a market's vaults is tagged either locked (backing a
// resting order) or free (withdrawable). Records only re-tag and move value; the vaults
// themselves are moved by the custody collaborator.
package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

var (
	ErrInvalidAmount     = errs.ErrInvalidAmount
	ErrInsufficientFunds = errs.ErrInsufficientFunds
	ErrNoFundsToSettle   = errs.ErrNoFundsToSettle
)

// Asset selects one leg of the trading pair
type Asset int8

const (
	Base Asset = iota
	Quote
)

// AssetOf maps the wire-level is_base flag to an Asset
func AssetOf(isBase bool) Asset {
	if isBase {
		return Base
	}
	return Quote
}

// Other returns the counter asset
func (a Asset) Other() Asset {
	if a == Base {
		return Quote
	}
	return Base
}

func (a Asset) String() string {
	switch a {
	case Base:
		return "base"
	case Quote:
		return "quote"
	default:
		return "unknown"
	}
}

// Record is one owner's balances in one market
type Record struct {
	Market common.Address `json:"market"`
	Owner  common.Address `json:"owner"`

	BaseFree    int64 `json:"baseFree"`
	BaseLocked  int64 `json:"baseLocked"`
	QuoteFree   int64 `json:"quoteFree"`
	QuoteLocked int64 `json:"quoteLocked"`
}

// NewRecord returns the zero record for (market, owner)
func NewRecord(market, owner common.Address) *Record {
	return &Record{Market: market, Owner: owner}
}

func (r *Record) free(a Asset) *int64 {
	if a == Base {
		return &r.BaseFree
	}
	return &r.QuoteFree
}

func (r *Record) locked(a Asset) *int64 {
	if a == Base {
		return &r.BaseLocked
	}
	return &r.QuoteLocked
}

// Free returns the withdrawable balance of a
func (r *Record) Free(a Asset) int64 { return *r.free(a) }

// Locked returns the balance of a committed to resting orders
func (r *Record) Locked(a Asset) int64 { return *r.locked(a) }

// Total returns free + locked for a
func (r *Record) Total(a Asset) int64 { return r.Free(a) + r.Locked(a) }

// IsEmpty reports whether every field is zero
func (r *Record) IsEmpty() bool {
	return r.BaseFree == 0 && r.BaseLocked == 0 && r.QuoteFree == 0 && r.QuoteLocked == 0
}

// Lock credits amount of a into the locked field (funds just entered the vault)
func (r *Record) Lock(a Asset, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: lock %d %s", ErrInvalidAmount, amount, a)
	}
	v, err := util.CheckedAdd(*r.locked(a), amount)
	if err != nil {
		return err
	}
	*r.locked(a) = v
	return nil
}

// Unlock debits amount of a from the locked field (funds are leaving the vault)
func (r *Record) Unlock(a Asset, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: unlock %d %s", ErrInvalidAmount, amount, a)
	}
	if *r.locked(a) < amount {
		return fmt.Errorf("%w: %s locked %d, need %d", ErrInsufficientFunds, a, *r.locked(a), amount)
	}
	*r.locked(a) -= amount
	return nil
}

// Release moves amount of a from locked to free without touching the vault
func (r *Record) Release(a Asset, amount int64) error {
	if err := r.Unlock(a, amount); err != nil {
		return err
	}
	v, err := util.CheckedAdd(*r.free(a), amount)
	if err != nil {
		*r.locked(a) += amount
		return err
	}
	*r.free(a) = v
	return nil
}

// Exchange settles one leg of a fill: give leaves the locked field of one asset and
// get arrives in the free field of the other.
func (r *Record) Exchange(give Asset, giveAmount, getAmount int64) error {
	if giveAmount <= 0 || getAmount <= 0 {
		return fmt.Errorf("%w: exchange %d for %d", ErrInvalidAmount, giveAmount, getAmount)
	}
	get := give.Other()
	credited, err := util.CheckedAdd(*r.free(get), getAmount)
	if err != nil {
		return err
	}
	if err := r.Unlock(give, giveAmount); err != nil {
		return err
	}
	*r.free(get) = credited
	return nil
}

// Withdraw debits amount of a from the free field (settlement)
func (r *Record) Withdraw(a Asset, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: withdraw %d %s", ErrInvalidAmount, amount, a)
	}
	have := *r.free(a)
	if have == 0 {
		return fmt.Errorf("%w: %s free balance is zero", ErrNoFundsToSettle, a)
	}
	if have < amount {
		return fmt.Errorf("%w: %s free %d, requested %d", ErrInsufficientFunds, a, have, amount)
	}
	*r.free(a) -= amount
	return nil
}

// Validate checks record invariants
func (r *Record) Validate() error {
	for _, a := range []Asset{Base, Quote} {
		if r.Free(a) < 0 {
			return fmt.Errorf("negative %s free: %d", a, r.Free(a))
		}
		if r.Locked(a) < 0 {
			return fmt.Errorf("negative %s locked: %d", a, r.Locked(a))
		}
	}
	return nil
}
