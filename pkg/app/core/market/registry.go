package market

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/rapidflow/pkg/app/core/errs"
)

// Registry indexes markets by id.
// Not synchronized: it is owned by the controller, which the host serializes.
type Registry struct {
	markets map[common.Address]*Market
}

// NewRegistry creates an empty market registry
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[common.Address]*Market),
	}
}

// Register adds a new market
// Returns ErrMarketExists if the pair was already initialized
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("%w: nil market", errs.ErrInvalidMarket)
	}
	if _, exists := r.markets[m.ID]; exists {
		return fmt.Errorf("%w: %s", errs.ErrMarketExists, m.ID.Hex())
	}
	r.markets[m.ID] = m
	return nil
}

// Get retrieves a market by id
func (r *Registry) Get(id common.Address) (*Market, error) {
	m, exists := r.markets[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", errs.ErrMarketNotFound, id.Hex())
	}
	return m, nil
}

// List returns all markets ordered by creation time, then id
func (r *Registry) List() []*Market {
	markets := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt != markets[j].CreatedAt {
			return markets[i].CreatedAt < markets[j].CreatedAt
		}
		return markets[i].ID.Hex() < markets[j].ID.Hex()
	})
	return markets
}

// Count returns the number of registered markets
func (r *Registry) Count() int {
	return len(r.markets)
}

// Exists checks if a market is registered
func (r *Registry) Exists(id common.Address) bool {
	_, exists := r.markets[id]
	return exists
}
