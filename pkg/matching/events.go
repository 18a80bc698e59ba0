package matching

import (
	"time"

	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

// Trade is one execution between a resting and an incoming order
type Trade struct {
	ID          string
	Ticker      string
	Price       int64
	Quantity    int64
	BuyOrderID  string
	SellOrderID string
	BuyOwner    string
	SellOwner   string
	BuyRef      uint64
	SellRef     uint64
	Aggressor   orderbook.Side
	Timestamp   time.Time
}

// Ref returns the durable record id of the given side of the trade
func (t Trade) Ref(side orderbook.Side) uint64 {
	if side == orderbook.Buy {
		return t.BuyRef
	}
	return t.SellRef
}

type ExpireReason string

const (
	ExpireSelfTrade      ExpireReason = "self_trade"
	ExpireMarketUnfilled ExpireReason = "market_unfilled"
)

// Expiry reports quantity that left the engine without trading and without an explicit cancel
type Expiry struct {
	Ticker    string
	OrderID   string
	OwnerID   string
	Ref       uint64
	Side      orderbook.Side
	Quantity  int64
	Reason    ExpireReason
	Timestamp time.Time
}

// Sink receives engine events. Sinks are called while the ticker lock is held
// and must not block or call back into the engine.
type Sink interface {
	OnTrade(t Trade)
	OnExpire(e Expiry)
}

// FanOut delivers every event to each sink in order
type FanOut []Sink

func (f FanOut) OnTrade(t Trade) {
	for _, s := range f {
		s.OnTrade(t)
	}
}

func (f FanOut) OnExpire(e Expiry) {
	for _, s := range f {
		s.OnExpire(e)
	}
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Trade  func(Trade)
	Expire func(Expiry)
}

func (s SinkFuncs) OnTrade(t Trade) {
	if s.Trade != nil {
		s.Trade(t)
	}
}

func (s SinkFuncs) OnExpire(e Expiry) {
	if s.Expire != nil {
		s.Expire(e)
	}
}
