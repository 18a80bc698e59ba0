package orderbook

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/google/btree"
)

var (
	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrNotResting     = errors.New("order not resting")
)

const btreeDegree = 32

type level struct {
	price  int64
	volume int64
	orders *list.List // *Order, FIFO by sequence
}

type entry struct {
	lvl  *level
	elem *list.Element
}

// Book is a single-instrument limit order book with price-time priority.
// Price levels live in a B-tree per side ordered best-first, so the best level is always Min().
// Book is not safe for concurrent use; the matching engine serializes access per ticker.
type Book struct {
	ticker string
	bids   *btree.BTreeG[*level]
	asks   *btree.BTreeG[*level]
	index  map[string]entry // order ID -> position
}

func NewBook(ticker string) *Book {
	return &Book{
		ticker: ticker,
		bids:   btree.NewG(btreeDegree, func(a, b *level) bool { return a.price > b.price }),
		asks:   btree.NewG(btreeDegree, func(a, b *level) bool { return a.price < b.price }),
		index:  make(map[string]entry),
	}
}

func (b *Book) Ticker() string { return b.ticker }

func (b *Book) side(s Side) *btree.BTreeG[*level] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Insert rests an order at the back of its price level.
func (b *Book) Insert(o *Order) error {
	if o.Quantity <= 0 || o.LimitPrice <= 0 {
		return fmt.Errorf("cannot rest %s: quantity and price must be positive", o.ID)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("cannot rest %s: invalid side", o.ID)
	}
	if _, exists := b.index[o.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}

	tree := b.side(o.Side)
	lvl, ok := tree.Get(&level{price: o.LimitPrice})
	if !ok {
		lvl = &level{price: o.LimitPrice, orders: list.New()}
		tree.ReplaceOrInsert(lvl)
	}
	elem := lvl.orders.PushBack(o)
	lvl.volume += o.Quantity
	b.index[o.ID] = entry{lvl: lvl, elem: elem}
	return nil
}

// best returns the head of the best level on a side, or nil.
func (b *Book) best(s Side) *Order {
	lvl, ok := b.side(s).Min()
	if !ok {
		return nil
	}
	return lvl.orders.Front().Value.(*Order)
}

// BestBid returns a copy of the highest-priority resting bid
func (b *Book) BestBid() (Order, bool) {
	return b.Best(Buy)
}

// BestAsk returns a copy of the highest-priority resting ask
func (b *Book) BestAsk() (Order, bool) {
	return b.Best(Sell)
}

func (b *Book) Best(s Side) (Order, bool) {
	o := b.best(s)
	if o == nil {
		return Order{}, false
	}
	return *o, true
}

// Reduce takes qty off a resting order, removing it when exhausted.
// Returns the quantity left on the order.
func (b *Book) Reduce(id string, qty int64) (int64, error) {
	e, ok := b.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotResting, id)
	}
	o := e.elem.Value.(*Order)
	if qty <= 0 || qty > o.Quantity {
		return o.Quantity, fmt.Errorf("reduce %s by %d: resting quantity is %d", id, qty, o.Quantity)
	}
	o.Quantity -= qty
	e.lvl.volume -= qty
	if o.Quantity == 0 {
		b.unlink(id, e, o.Side)
	}
	return o.Quantity, nil
}

// Remove deletes a resting order and returns it
func (b *Book) Remove(id string) (Order, bool) {
	e, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	o := e.elem.Value.(*Order)
	e.lvl.volume -= o.Quantity
	b.unlink(id, e, o.Side)
	return *o, true
}

func (b *Book) unlink(id string, e entry, s Side) {
	e.lvl.orders.Remove(e.elem)
	delete(b.index, id)
	if e.lvl.orders.Len() == 0 {
		b.side(s).Delete(e.lvl)
	}
}

// Find looks up a resting order by ID
func (b *Book) Find(id string) (Order, bool) {
	e, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	return *e.elem.Value.(*Order), true
}

// FindByOwnerPrice returns every resting order of owner at exactly price, in time priority.
// Used when a durable record predates engine order IDs.
func (b *Book) FindByOwnerPrice(s Side, owner string, price int64) []Order {
	lvl, ok := b.side(s).Get(&level{price: price})
	if !ok {
		return nil
	}
	var out []Order
	for el := lvl.orders.Front(); el != nil; el = el.Next() {
		if o := el.Value.(*Order); o.OwnerID == owner {
			out = append(out, *o)
		}
	}
	return out
}

// TopN returns up to n resting orders on a side in priority order
func (b *Book) TopN(s Side, n int) []Order {
	out := make([]Order, 0, n)
	if n <= 0 {
		return out
	}
	b.side(s).Ascend(func(lvl *level) bool {
		for el := lvl.orders.Front(); el != nil; el = el.Next() {
			out = append(out, *el.Value.(*Order))
			if len(out) == n {
				return false
			}
		}
		return true
	})
	return out
}

// Depth aggregates up to n price levels on a side, best first. n <= 0 returns every level.
func (b *Book) Depth(s Side, n int) []PriceLevel {
	var out []PriceLevel
	b.side(s).Ascend(func(lvl *level) bool {
		out = append(out, PriceLevel{Price: lvl.price, Quantity: lvl.volume, Orders: lvl.orders.Len()})
		return n <= 0 || len(out) < n
	})
	return out
}

// Volume is the total resting quantity on a side
func (b *Book) Volume(s Side) int64 {
	var total int64
	b.side(s).Ascend(func(lvl *level) bool {
		total += lvl.volume
		return true
	})
	return total
}

// Len is the number of resting orders on both sides
func (b *Book) Len() int {
	return len(b.index)
}

// Crossed reports whether the best bid is at or above the best ask
func (b *Book) Crossed() bool {
	bid, okB := b.bids.Min()
	ask, okA := b.asks.Min()
	return okB && okA && bid.price >= ask.price
}
