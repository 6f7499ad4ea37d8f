package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
	"github.com/uhyunpark/rapidflow/pkg/app/core/ledger"
	"github.com/uhyunpark/rapidflow/pkg/app/core/orderbook"
	"golang.org/x/crypto/sha3"
)

// Address derivation seeds
const (
	seedMarket = "market"
	seedVault  = "vault"
)

// Market identifies a base/quote trading pair and its pooled vaults.
// Immutable once created.
type Market struct {
	ID         common.Address `json:"id"`
	BaseAsset  common.Address `json:"baseAsset"`  // e.g. SOL mint
	QuoteAsset common.Address `json:"quoteAsset"` // e.g. USDC mint
	BaseVault  common.Address `json:"baseVault"`
	QuoteVault common.Address `json:"quoteVault"`

	// BookCapacity bounds each side's resting orders
	BookCapacity int `json:"bookCapacity"`

	CreatedAt int64 `json:"createdAt"` // Unix milliseconds
}

// derive hashes seed and parts with Keccak-256 and keeps the last 20 bytes,
// the same way EVM addresses are cut from a hash
func derive(seed string, parts ...common.Address) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(seed))
	for _, p := range parts {
		h.Write(p.Bytes())
	}
	return common.BytesToAddress(h.Sum(nil)[12:])
}

// DeriveID returns the market id for a (base, quote) pair
func DeriveID(base, quote common.Address) common.Address {
	return derive(seedMarket, base, quote)
}

// DeriveVault returns the pooled vault a market holds asset in
func DeriveVault(market, asset common.Address) common.Address {
	return derive(seedVault, market, asset)
}

// New builds the descriptor for a (base, quote) pair
func New(base, quote common.Address, capacity int, createdAt int64) (*Market, error) {
	if base == (common.Address{}) || quote == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero asset address", errs.ErrInvalidMarket)
	}
	if base == quote {
		return nil, fmt.Errorf("%w: base and quote are both %s", errs.ErrInvalidMarket, base.Hex())
	}
	if capacity <= 0 {
		capacity = orderbook.DefaultCapacity
	}

	id := DeriveID(base, quote)
	return &Market{
		ID:           id,
		BaseAsset:    base,
		QuoteAsset:   quote,
		BaseVault:    DeriveVault(id, base),
		QuoteVault:   DeriveVault(id, quote),
		BookCapacity: capacity,
		CreatedAt:    createdAt,
	}, nil
}

// Asset returns the token address of one leg
func (m *Market) Asset(a ledger.Asset) common.Address {
	if a == ledger.Base {
		return m.BaseAsset
	}
	return m.QuoteAsset
}

// Vault returns the vault address of one leg
func (m *Market) Vault(a ledger.Asset) common.Address {
	if a == ledger.Base {
		return m.BaseVault
	}
	return m.QuoteVault
}

// Symbol is a short human label, e.g. "0x1111…/0x2222…"
func (m *Market) Symbol() string {
	return fmt.Sprintf("%s/%s", short(m.BaseAsset), short(m.QuoteAsset))
}

func short(a common.Address) string {
	return a.Hex()[:6]
}
