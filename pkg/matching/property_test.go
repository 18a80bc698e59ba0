package matching

import (
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

func drawOrder(t *rapid.T, label string) orderbook.Order {
	side := orderbook.Buy
	if rapid.Bool().Draw(t, label+"_sell") {
		side = orderbook.Sell
	}
	kind := orderbook.Limit
	if rapid.IntRange(0, 9).Draw(t, label+"_kind") == 0 {
		kind = orderbook.Market
	}
	o := orderbook.Order{
		OwnerID:  rapid.SampledFrom([]string{"User_1", "User_2", "Bot_Noise"}).Draw(t, label+"_owner"),
		Ticker:   "T",
		Side:     side,
		Kind:     kind,
		Quantity: rapid.Int64Range(1, 20).Draw(t, label+"_qty"),
	}
	if kind == orderbook.Limit {
		o.LimitPrice = rapid.Int64Range(90, 110).Draw(t, label+"_price")
	}
	return o
}

func newPropertyEngine(t *rapid.T) *Engine {
	reg := market.NewRegistry()
	inst, err := market.NewInstrument("T", "", "", 100, 0)
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	if err := reg.Register(inst); err != nil {
		t.Fatalf("register: %v", err)
	}
	return NewEngine(zap.NewNop(), reg, Options{})
}

// The book is never crossed after PlaceOrder returns.
func TestProperty_BookNeverCrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newPropertyEngine(t)
		n := rapid.IntRange(1, 60).Draw(t, "n")
		for i := 0; i < n; i++ {
			if _, err := e.PlaceOrder(drawOrder(t, "o")); err != nil {
				t.Fatalf("place: %v", err)
			}
			if e.Crossed("T") {
				t.Fatalf("book crossed after order %d", i)
			}
		}
	})
}

// Resting volume plus traded volume accounts for every admitted unit on each side.
func TestProperty_Conservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newPropertyEngine(t)
		var expired int64
		var expiredBuy, expiredSell int64
		e.AddSink(SinkFuncs{Expire: func(x Expiry) {
			expired += x.Quantity
			if x.Side == orderbook.Buy {
				expiredBuy += x.Quantity
			} else {
				expiredSell += x.Quantity
			}
		}})

		var inBuy, inSell, traded int64
		n := rapid.IntRange(1, 60).Draw(t, "n")
		for i := 0; i < n; i++ {
			o := drawOrder(t, "o")
			if o.Side == orderbook.Buy {
				inBuy += o.Quantity
			} else {
				inSell += o.Quantity
			}
			trades, err := e.PlaceOrder(o)
			if err != nil {
				t.Fatalf("place: %v", err)
			}
			for _, tr := range trades {
				if tr.Quantity <= 0 {
					t.Fatalf("non-positive trade quantity %d", tr.Quantity)
				}
				traded += tr.Quantity
			}
		}

		bids, asks := e.Volume("T")
		if inBuy != bids+traded+expiredBuy {
			t.Fatalf("buy side: admitted %d != resting %d + traded %d + expired %d", inBuy, bids, traded, expiredBuy)
		}
		if inSell != asks+traded+expiredSell {
			t.Fatalf("sell side: admitted %d != resting %d + traded %d + expired %d", inSell, asks, traded, expiredSell)
		}
		if expired != expiredBuy+expiredSell {
			t.Fatalf("expiry accounting mismatch")
		}
	})
}

// A fully matched order never rests; a partially matched LIMIT rests exactly its remainder.
func TestProperty_RemainderRests(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newPropertyEngine(t)
		n := rapid.IntRange(0, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			if _, err := e.PlaceOrder(drawOrder(t, "seed")); err != nil {
				t.Fatalf("place: %v", err)
			}
		}

		o := drawOrder(t, "probe")
		o.Kind = orderbook.Limit
		if o.LimitPrice == 0 {
			o.LimitPrice = 100
		}
		o.ID = "probe"
		trades, err := e.PlaceOrder(o)
		if err != nil {
			t.Fatalf("place probe: %v", err)
		}
		var filled int64
		for _, tr := range trades {
			filled += tr.Quantity
		}

		rested, ok := e.Find("T", "probe")
		if filled == o.Quantity {
			if ok {
				t.Fatalf("fully matched order still resting with %d", rested.Quantity)
			}
			return
		}
		if !ok {
			t.Fatalf("partially matched order not resting (filled %d of %d)", filled, o.Quantity)
		}
		if rested.Quantity != o.Quantity-filled {
			t.Fatalf("resting %d, want %d", rested.Quantity, o.Quantity-filled)
		}
	})
}
