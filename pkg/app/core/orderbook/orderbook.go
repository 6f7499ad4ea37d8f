package orderbook

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultCapacity bounds a single side of a market
const DefaultCapacity = 128

// Book holds the resting orders of one side of one market.
//
// Orders are grouped in price levels tracked by a heap (O(1) best price) and kept
// FIFO by order id inside each level, so the head of the best level is always the
// best order under price-time priority.
//
// Book is not safe for concurrent use; callers serialize access.
type Book struct {
	side     Side
	capacity int

	prices *priceHeap
	levels map[int64][]*Order // price -> orders sorted by id
	index  map[uint64]int64   // order id -> price
}

// NewBook creates an empty book for side with a fixed capacity
func NewBook(side Side, capacity int) *Book {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := newPriceHeap(side)
	heap.Init(h)
	return &Book{
		side:     side,
		capacity: capacity,
		prices:   h,
		levels:   make(map[int64][]*Order),
		index:    make(map[uint64]int64),
	}
}

func (b *Book) Side() Side { return b.side }
func (b *Book) Len() int   { return len(b.index) }
func (b *Book) Cap() int   { return b.capacity }

// Insert rests o in the book, keeping (price, id) order
func (b *Book) Insert(o Order) error {
	if o.Price <= 0 || o.Size <= 0 {
		return fmt.Errorf("%w: price=%d size=%d", ErrInvalidAmount, o.Price, o.Size)
	}
	if _, exists := b.index[o.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateOrder, o.ID)
	}
	if len(b.index) >= b.capacity {
		return fmt.Errorf("%w: %s side holds %d orders", ErrBookFull, b.side, b.capacity)
	}

	o.Side = b.side
	level := b.levels[o.Price]
	if len(level) == 0 {
		heap.Push(b.prices, o.Price)
	}

	// ids are handed out in increasing order, so this is an append in practice
	i := sort.Search(len(level), func(i int) bool { return level[i].ID > o.ID })
	level = append(level, nil)
	copy(level[i+1:], level[i:])
	level[i] = &o

	b.levels[o.Price] = level
	b.index[o.ID] = o.Price
	return nil
}

// PeekBest returns the best order without removing it
func (b *Book) PeekBest() (Order, bool) {
	p, ok := b.prices.Peek()
	if !ok {
		return Order{}, false
	}
	return *b.levels[p][0], true
}

// Get returns the order with the given id
func (b *Book) Get(id uint64) (Order, bool) {
	i, o := b.find(id)
	if i < 0 {
		return Order{}, false
	}
	return *o, true
}

// ReduceOrRemove decrements the remaining size of an order by amount and drops the
// order once nothing remains. It returns the order as it stands after the change.
func (b *Book) ReduceOrRemove(id uint64, amount int64) (Order, error) {
	i, o := b.find(id)
	if i < 0 {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if amount <= 0 || amount > o.Size {
		return Order{}, fmt.Errorf("%w: reduce order %d (size %d) by %d", ErrInvalidAmount, id, o.Size, amount)
	}

	o.Size -= amount
	out := *o
	if o.Size == 0 {
		b.removeAt(o.Price, i)
	}
	return out, nil
}

// Remove takes an order out of the book on behalf of owner (cancellation)
func (b *Book) Remove(id uint64, owner common.Address) (Order, error) {
	i, o := b.find(id)
	if i < 0 {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if o.Owner != owner {
		return Order{}, fmt.Errorf("%w: order %d is not owned by caller", ErrUnauthorized, id)
	}
	out := *o
	b.removeAt(o.Price, i)
	return out, nil
}

// Orders returns a copy of all resting orders, best first
func (b *Book) Orders() []Order {
	out := make([]Order, 0, len(b.index))
	for _, p := range b.sortedPrices() {
		for _, o := range b.levels[p] {
			out = append(out, *o)
		}
	}
	return out
}

// Levels returns the aggregated depth, best price first
func (b *Book) Levels() []PriceLevel {
	prices := b.sortedPrices()
	levels := make([]PriceLevel, 0, len(prices))
	for _, p := range prices {
		lv := PriceLevel{Price: p, Orders: len(b.levels[p])}
		for _, o := range b.levels[p] {
			lv.Size += o.Size
		}
		levels = append(levels, lv)
	}
	return levels
}

// Clone returns a deep copy that can be mutated independently
func (b *Book) Clone() *Book {
	cp := &Book{
		side:     b.side,
		capacity: b.capacity,
		prices:   b.prices.clone(),
		levels:   make(map[int64][]*Order, len(b.levels)),
		index:    make(map[uint64]int64, len(b.index)),
	}
	for p, level := range b.levels {
		orders := make([]*Order, len(level))
		for i, o := range level {
			c := *o
			orders[i] = &c
		}
		cp.levels[p] = orders
	}
	for id, p := range b.index {
		cp.index[id] = p
	}
	return cp
}

func (b *Book) find(id uint64) (int, *Order) {
	p, ok := b.index[id]
	if !ok {
		return -1, nil
	}
	for i, o := range b.levels[p] {
		if o.ID == id {
			return i, o
		}
	}
	return -1, nil
}

func (b *Book) removeAt(price int64, i int) {
	level := b.levels[price]
	delete(b.index, level[i].ID)
	level = append(level[:i], level[i+1:]...)
	if len(level) > 0 {
		b.levels[price] = level
		return
	}
	delete(b.levels, price)
	if at := b.prices.indexOf(price); at >= 0 {
		heap.Remove(b.prices, at)
	}
}

func (b *Book) sortedPrices() []int64 {
	prices := make([]int64, 0, len(b.levels))
	for p := range b.levels {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool {
		if b.side == Bid {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	return prices
}
