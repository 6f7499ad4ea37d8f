package orderbook

// priceHeap implements heap.Interface over the distinct price levels of one side.
// Bids keep the highest price on top, asks the lowest.
// Use container/heap to manipulate it (Init, Push, Pop, Remove).
type priceHeap struct {
	side   Side
	prices []int64
}

func newPriceHeap(side Side) *priceHeap {
	return &priceHeap{side: side}
}

func (h priceHeap) Len() int { return len(h.prices) }

func (h priceHeap) Less(i, j int) bool {
	if h.side == Bid {
		return h.prices[i] > h.prices[j]
	}
	return h.prices[i] < h.prices[j]
}

func (h priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }

func (h *priceHeap) Push(x interface{}) {
	h.prices = append(h.prices, x.(int64))
}

func (h *priceHeap) Pop() interface{} {
	old := h.prices
	n := len(old)
	x := old[n-1]
	h.prices = old[0 : n-1]
	return x
}

// Peek returns the best price without removing it
func (h priceHeap) Peek() (int64, bool) {
	if len(h.prices) == 0 {
		return 0, false
	}
	return h.prices[0], true
}

// indexOf finds the heap slot holding price (O(N), only used when a level empties)
func (h priceHeap) indexOf(price int64) int {
	for i, p := range h.prices {
		if p == price {
			return i
		}
	}
	return -1
}

func (h *priceHeap) clone() *priceHeap {
	cp := make([]int64, len(h.prices))
	copy(cp, h.prices)
	return &priceHeap{side: h.side, prices: cp}
}
