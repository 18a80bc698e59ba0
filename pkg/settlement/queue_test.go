package settlement

import (
	"testing"

	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

func TestFromTrade(t *testing.T) {
	tests := []struct {
		name    string
		buyRef  uint64
		sellRef uint64
		want    []orderbook.Side
	}{
		{"bot against bot", 0, 0, nil},
		{"user buys from bot", 7, 0, []orderbook.Side{orderbook.Buy}},
		{"user sells to bot", 0, 9, []orderbook.Side{orderbook.Sell}},
		{"user against user", 7, 9, []orderbook.Side{orderbook.Buy, orderbook.Sell}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs := FromTrade(matching.Trade{ID: "t", Ticker: "A", Price: 10, Quantity: 2, BuyRef: tt.buyRef, SellRef: tt.sellRef})
			if len(evs) != len(tt.want) {
				t.Fatalf("events = %d, want %d", len(evs), len(tt.want))
			}
			for i, side := range tt.want {
				if evs[i].Side != side || evs[i].Kind != EventFill || evs[i].TradeID != "t" {
					t.Errorf("event %d = %+v", i, evs[i])
				}
			}
		})
	}
}

func TestFromExpirySkipsSynthetic(t *testing.T) {
	if _, ok := FromExpiry(matching.Expiry{Ticker: "A"}); ok {
		t.Errorf("synthetic expiry should be dropped")
	}
	ev, ok := FromExpiry(matching.Expiry{Ticker: "A", Ref: 3, Quantity: 4, Reason: matching.ExpireSelfTrade})
	if !ok || ev.Kind != EventExpire || ev.RecordID != 3 || ev.Quantity != 4 {
		t.Errorf("event = %+v ok=%v", ev, ok)
	}
}

func TestQueueOrdering(t *testing.T) {
	q := NewQueue()
	q.Push(Event{Ticker: "A", RecordID: 1}, Event{Ticker: "B", RecordID: 2}, Event{Ticker: "A", RecordID: 3})

	if q.Len("") != 3 || q.Len("A") != 2 {
		t.Fatalf("len all=%d A=%d", q.Len(""), q.Len("A"))
	}

	got := q.Take("A")
	if len(got) != 2 || got[0].RecordID != 1 || got[1].RecordID != 3 {
		t.Fatalf("take A = %+v", got)
	}
	if q.Len("A") != 0 {
		t.Errorf("A should be empty after take")
	}

	q.Push(Event{Ticker: "A", RecordID: 4})
	q.Requeue("A", got[1:])
	again := q.Take("A")
	if len(again) != 2 || again[0].RecordID != 3 || again[1].RecordID != 4 {
		t.Errorf("requeue order = %+v", again)
	}
	if q.Take("missing") != nil {
		t.Errorf("expected nil for unknown ticker")
	}
}
