// Package custody is the boundary to the token-transfer primitive that moves value
// between an owner's external account and a market vault.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
	"github.com/uhyunpark/rapidflow/pkg/util"
)

var (
	ErrInsufficientExternalBalance = errs.ErrInsufficientExternalBalance
	ErrSelfTransfer                = errors.New("transfer to self")
)

// Mover transfers amount of asset from one holder to another.
// A Move either applies completely or not at all.
type Mover interface {
	Move(from, to, asset common.Address, amount int64) error
}

// BalanceReader exposes holdings for audits and inspection
type BalanceReader interface {
	Balance(holder, asset common.Address) int64
}

// Balance is one holder's amount of one asset
type Balance struct {
	Holder common.Address `json:"holder"`
	Asset  common.Address `json:"asset"`
	Amount int64          `json:"amount"`
}

// BalanceStore persists bank balances. *storage.PebbleStore implements it.
type BalanceStore interface {
	// SaveBalances writes all of bs atomically
	SaveBalances(bs []Balance) error
	LoadBalances() ([]Balance, error)
}

type holding struct {
	holder common.Address
	asset  common.Address
}

// Bank is the Mover used by the devnet node and tests. Balances live in memory and,
// when the bank has a store, every change is written through before it applies.
// Thread-safe.
type Bank struct {
	mu       sync.RWMutex
	balances map[holding]int64
	store    BalanceStore // nil keeps balances in memory only
}

// NewBank creates an empty in-memory bank
func NewBank() *Bank {
	return &Bank{balances: make(map[holding]int64)}
}

// NewPersistentBank creates a bank backed by store, loaded with the balances it holds
func NewPersistentBank(store BalanceStore) (*Bank, error) {
	saved, err := store.LoadBalances()
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	b := &Bank{balances: make(map[holding]int64, len(saved)), store: store}
	for _, bal := range saved {
		b.balances[holding{bal.Holder, bal.Asset}] = bal.Amount
	}
	return b, nil
}

// save writes bs through to the store. Caller holds mu.
func (b *Bank) save(bs ...Balance) error {
	if b.store == nil {
		return nil
	}
	if err := b.store.SaveBalances(bs); err != nil {
		return fmt.Errorf("save balances: %w", err)
	}
	return nil
}

// Mint credits amount of asset to holder out of thin air (faucet)
func (b *Bank) Mint(holder, asset common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: mint %d", errs.ErrInvalidAmount, amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := holding{holder, asset}
	v, err := util.CheckedAdd(b.balances[k], amount)
	if err != nil {
		return err
	}
	if err := b.save(Balance{holder, asset, v}); err != nil {
		return err
	}
	b.balances[k] = v
	return nil
}

// Move implements Mover. from and to must differ.
func (b *Bank) Move(from, to, asset common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: move %d", errs.ErrInvalidAmount, amount)
	}
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, from.Hex())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src, dst := holding{from, asset}, holding{to, asset}
	if b.balances[src] < amount {
		return fmt.Errorf("%w: %s holds %d of %s, need %d",
			ErrInsufficientExternalBalance, from.Hex(), b.balances[src], asset.Hex(), amount)
	}
	debited := b.balances[src] - amount
	credited, err := util.CheckedAdd(b.balances[dst], amount)
	if err != nil {
		return err
	}
	if err := b.save(Balance{from, asset, debited}, Balance{to, asset, credited}); err != nil {
		return err
	}
	b.balances[src] = debited
	b.balances[dst] = credited
	return nil
}

// Balance implements BalanceReader
func (b *Bank) Balance(holder, asset common.Address) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[holding{holder, asset}]
}

var (
	_ Mover         = (*Bank)(nil)
	_ BalanceReader = (*Bank)(nil)
)
