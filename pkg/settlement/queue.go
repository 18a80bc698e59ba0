package settlement

import (
	"sync"
	"time"

	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

type EventKind int

const (
	EventFill EventKind = iota
	EventExpire
)

func (k EventKind) String() string {
	if k == EventExpire {
		return "expire"
	}
	return "fill"
}

// Event is one ledger-relevant change to a durable record
type Event struct {
	Kind      EventKind
	Ticker    string
	RecordID  uint64
	TradeID   string // fills only
	Side      orderbook.Side
	Price     int64
	Quantity  int64
	Reason    matching.ExpireReason // expiries only
	Timestamp time.Time
}

// FromTrade splits a trade into one fill event per side that references a durable record.
// Trades between synthetic orders produce nothing.
func FromTrade(t matching.Trade) []Event {
	var out []Event
	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		ref := t.Ref(side)
		if ref == 0 {
			continue
		}
		out = append(out, Event{
			Kind:      EventFill,
			Ticker:    t.Ticker,
			RecordID:  ref,
			TradeID:   t.ID,
			Side:      side,
			Price:     t.Price,
			Quantity:  t.Quantity,
			Timestamp: t.Timestamp,
		})
	}
	return out
}

// FromExpiry converts an expiry of a user order; ok is false for synthetic orders
func FromExpiry(x matching.Expiry) (Event, bool) {
	if x.Ref == 0 {
		return Event{}, false
	}
	return Event{
		Kind:      EventExpire,
		Ticker:    x.Ticker,
		RecordID:  x.Ref,
		Side:      x.Side,
		Quantity:  x.Quantity,
		Reason:    x.Reason,
		Timestamp: x.Timestamp,
	}, true
}

// Queue holds unapplied events per ticker, FIFO in emission order.
// It is unbounded so that pushing from inside the engine's critical section never blocks.
type Queue struct {
	mu       sync.Mutex
	byTicker map[string][]Event
}

func NewQueue() *Queue {
	return &Queue{byTicker: make(map[string][]Event)}
}

func (q *Queue) Push(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ev := range evs {
		q.byTicker[ev.Ticker] = append(q.byTicker[ev.Ticker], ev)
	}
}

// Take removes and returns every queued event for ticker
func (q *Queue) Take(ticker string) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	evs := q.byTicker[ticker]
	delete(q.byTicker, ticker)
	return evs
}

// Requeue puts events back in front of anything queued since they were taken
func (q *Queue) Requeue(ticker string, evs []Event) {
	if len(evs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byTicker[ticker] = append(append([]Event(nil), evs...), q.byTicker[ticker]...)
}

// Len returns queued events for ticker, or for every ticker when ticker is empty
func (q *Queue) Len(ticker string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ticker != "" {
		return len(q.byTicker[ticker])
	}
	n := 0
	for _, evs := range q.byTicker {
		n += len(evs)
	}
	return n
}
