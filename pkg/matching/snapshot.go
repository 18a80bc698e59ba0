package matching

import (
	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

// Snapshot is a consistent read of one book taken under the ticker's read lock
type Snapshot struct {
	Ticker    string
	Price     int64
	Bids      []orderbook.Order // best first
	Asks      []orderbook.Order
	BidLevels []orderbook.PriceLevel
	AskLevels []orderbook.PriceLevel
	Resting   int
}

// Snapshot returns the top n orders and price levels of each side
func (e *Engine) Snapshot(ticker string, n int) (Snapshot, error) {
	ts, err := e.state(ticker)
	if err != nil {
		return Snapshot{}, err
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return Snapshot{
		Ticker:    ticker,
		Price:     ts.inst.CurrentPrice(),
		Bids:      ts.book.TopN(orderbook.Buy, n),
		Asks:      ts.book.TopN(orderbook.Sell, n),
		BidLevels: ts.book.Depth(orderbook.Buy, n),
		AskLevels: ts.book.Depth(orderbook.Sell, n),
		Resting:   ts.book.Len(),
	}, nil
}

// Crossed reports whether a ticker's book has a bid at or above its best ask.
// It should never be true between operations.
func (e *Engine) Crossed(ticker string) bool {
	ts, err := e.state(ticker)
	if err != nil {
		return false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.book.Crossed()
}

// Volume returns resting quantity per side
func (e *Engine) Volume(ticker string) (bids, asks int64) {
	ts, err := e.state(ticker)
	if err != nil {
		return 0, 0
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.book.Volume(orderbook.Buy), ts.book.Volume(orderbook.Sell)
}
