package matching

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
	"github.com/uhyunpark/stocksim/pkg/util"
)

type Options struct {
	SelfTrade SelfTradePolicy
	Remainder RemainderPolicy
	Clock     util.Clock
}

// tickerState is everything one instrument's matching touches. mu is the exclusion
// domain for the book, the instrument price and anything a caller runs through WithTicker.
type tickerState struct {
	mu   sync.RWMutex
	inst *market.Instrument
	book *orderbook.Book
}

// Engine matches orders with continuous price-time priority, one book per registered instrument.
type Engine struct {
	log   *zap.Logger
	opts  Options
	books map[string]*tickerState // fixed at construction
	seq   atomic.Uint64

	sinkMu sync.RWMutex
	sinks  FanOut
}

// NewEngine creates a book for every instrument currently in the registry.
// Instruments registered afterwards are not tradable on this engine.
func NewEngine(log *zap.Logger, registry *market.Registry, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	books := make(map[string]*tickerState, registry.Count())
	for _, inst := range registry.List() {
		books[inst.Ticker] = &tickerState{inst: inst, book: orderbook.NewBook(inst.Ticker)}
	}
	return &Engine{
		log:   log.Named("matching"),
		opts:  opts,
		books: books,
	}
}

// AddSink registers an event consumer. Register sinks before orders start flowing.
func (e *Engine) AddSink(s Sink) {
	e.sinkMu.Lock()
	e.sinks = append(e.sinks, s)
	e.sinkMu.Unlock()
}

func (e *Engine) emitTrade(t Trade) {
	e.sinkMu.RLock()
	defer e.sinkMu.RUnlock()
	e.sinks.OnTrade(t)
}

func (e *Engine) emitExpire(x Expiry) {
	e.sinkMu.RLock()
	defer e.sinkMu.RUnlock()
	e.sinks.OnExpire(x)
}

func (e *Engine) state(ticker string) (*tickerState, error) {
	ts, ok := e.books[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return ts, nil
}

// Tickers lists every ticker this engine has a book for
func (e *Engine) Tickers() []string {
	out := make([]string, 0, len(e.books))
	for t := range e.books {
		out = append(out, t)
	}
	return out
}

// Locked is a handle on one ticker's book, valid only inside WithTicker.
type Locked struct {
	e  *Engine
	ts *tickerState
}

// WithTicker runs fn while holding the ticker's write lock, so that book changes and
// whatever fn does alongside them (ledger writes, queue draining) form one critical section.
func (e *Engine) WithTicker(ticker string, fn func(l *Locked) error) error {
	ts, err := e.state(ticker)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return fn(&Locked{e: e, ts: ts})
}

func (l *Locked) Ticker() string { return l.ts.inst.Ticker }

func (l *Locked) Place(o orderbook.Order) ([]Trade, error) {
	return l.e.place(l.ts, o)
}

func (l *Locked) Cancel(id string) (orderbook.Order, error) {
	o, ok := l.ts.book.Remove(id)
	if !ok {
		return orderbook.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	l.e.log.Debug("order_cancelled", zap.String("ticker", o.Ticker), zap.String("order_id", id), zap.Int64("qty", o.Quantity))
	return o, nil
}

func (l *Locked) Find(id string) (orderbook.Order, bool) {
	return l.ts.book.Find(id)
}

func (l *Locked) FindByOwnerPrice(side orderbook.Side, owner string, price int64) []orderbook.Order {
	return l.ts.book.FindByOwnerPrice(side, owner, price)
}

// PlaceOrder validates, admits and matches an order. The order's ticker selects the book.
// Returned trades are also delivered to every sink before PlaceOrder returns.
func (e *Engine) PlaceOrder(o orderbook.Order) ([]Trade, error) {
	var trades []Trade
	err := e.WithTicker(o.Ticker, func(l *Locked) error {
		var err error
		trades, err = l.Place(o)
		return err
	})
	return trades, err
}

// Cancel removes a resting order without emitting an event; the caller owns settlement.
func (e *Engine) Cancel(ticker, orderID string) (orderbook.Order, error) {
	var out orderbook.Order
	err := e.WithTicker(ticker, func(l *Locked) error {
		var err error
		out, err = l.Cancel(orderID)
		return err
	})
	return out, err
}

// Find looks up a resting order under a read lock
func (e *Engine) Find(ticker, orderID string) (orderbook.Order, bool) {
	ts, err := e.state(ticker)
	if err != nil {
		return orderbook.Order{}, false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.book.Find(orderID)
}

func validate(o orderbook.Order) error {
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidOrder)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Quantity)
	}
	switch o.Kind {
	case orderbook.Limit:
		if o.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit price must be positive, got %d", ErrInvalidOrder, o.LimitPrice)
		}
	case orderbook.Market:
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedKind, o.Kind)
	}
	return nil
}

func crosses(incoming, resting orderbook.Order) bool {
	if incoming.Kind == orderbook.Market {
		return true
	}
	if incoming.Side == orderbook.Buy {
		return resting.LimitPrice <= incoming.LimitPrice
	}
	return resting.LimitPrice >= incoming.LimitPrice
}

func (e *Engine) place(ts *tickerState, o orderbook.Order) ([]Trade, error) {
	if err := validate(o); err != nil {
		e.log.Debug("order_rejected", zap.String("ticker", o.Ticker), zap.String("owner", o.OwnerID), zap.Error(err))
		return nil, err
	}
	if !ts.inst.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrHalted, ts.inst.Ticker)
	}
	if o.ID != "" {
		if _, exists := ts.book.Find(o.ID); exists {
			return nil, fmt.Errorf("%w: order %s already resting", ErrInvalidOrder, o.ID)
		}
	}

	now := e.opts.Clock.Now()
	o.Sequence = e.seq.Add(1)
	if o.ID == "" {
		o.ID = fmt.Sprintf("O-%d", o.Sequence)
	}
	o.Ticker = ts.inst.Ticker
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}

	var trades []Trade
	opposite := o.Side.Opposite()
	stopped := false

	for o.Quantity > 0 {
		maker, ok := ts.book.Best(opposite)
		if !ok || !crosses(o, maker) {
			break
		}

		if maker.OwnerID == o.OwnerID && e.opts.SelfTrade != SelfTradeAllow {
			if e.opts.SelfTrade == SelfTradeCancelResting {
				ts.book.Remove(maker.ID)
				e.emitExpire(expiry(maker, ExpireSelfTrade, now))
				continue
			}
			e.emitExpire(expiry(o, ExpireSelfTrade, now))
			stopped = true
			break
		}

		qty := min(o.Quantity, maker.Quantity)
		if _, err := ts.book.Reduce(maker.ID, qty); err != nil {
			return trades, fmt.Errorf("fill resting %s: %w", maker.ID, err)
		}
		o.Quantity -= qty

		t := newTrade(o, maker, qty, now)
		ts.inst.SetPrice(t.Price)
		trades = append(trades, t)
		e.emitTrade(t)
	}

	if o.Quantity > 0 && !stopped {
		if err := e.handleRemainder(ts, o, now); err != nil {
			return trades, err
		}
	}

	if len(trades) > 0 {
		e.log.Debug("order_matched",
			zap.String("ticker", o.Ticker),
			zap.String("order_id", o.ID),
			zap.Int("trades", len(trades)),
			zap.Int64("last_price", trades[len(trades)-1].Price),
		)
	}
	return trades, nil
}

func (e *Engine) handleRemainder(ts *tickerState, o orderbook.Order, now time.Time) error {
	if o.Kind == orderbook.Market {
		if e.opts.Remainder != RemainderRestAtLast {
			e.emitExpire(expiry(o, ExpireMarketUnfilled, now))
			return nil
		}
		o.Kind = orderbook.Limit
		o.LimitPrice = ts.inst.CurrentPrice()
	}
	rest := o
	if err := ts.book.Insert(&rest); err != nil {
		return fmt.Errorf("rest %s: %w", o.ID, err)
	}
	return nil
}

func newTrade(incoming, maker orderbook.Order, qty int64, now time.Time) Trade {
	t := Trade{
		ID:        uuid.NewString(),
		Ticker:    maker.Ticker,
		Price:     maker.LimitPrice,
		Quantity:  qty,
		Aggressor: incoming.Side,
		Timestamp: now,
	}
	buy, sell := incoming, maker
	if incoming.Side == orderbook.Sell {
		buy, sell = maker, incoming
	}
	t.BuyOrderID, t.BuyOwner, t.BuyRef = buy.ID, buy.OwnerID, buy.Ref
	t.SellOrderID, t.SellOwner, t.SellRef = sell.ID, sell.OwnerID, sell.Ref
	return t
}

func expiry(o orderbook.Order, reason ExpireReason, now time.Time) Expiry {
	return Expiry{
		Ticker:    o.Ticker,
		OrderID:   o.ID,
		OwnerID:   o.OwnerID,
		Ref:       o.Ref,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Reason:    reason,
		Timestamp: now,
	}
}
