package orderbook

import (
	"errors"
	"testing"
)

func limit(id, owner string, side Side, qty, price int64, seq uint64) *Order {
	return &Order{ID: id, OwnerID: owner, Ticker: "T", Side: side, Kind: Limit, Quantity: qty, LimitPrice: price, Sequence: seq}
}

func TestInsertBestPriority(t *testing.T) {
	b := NewBook("T")

	orders := []*Order{
		limit("b1", "A", Buy, 5, 100, 1),
		limit("b2", "B", Buy, 5, 101, 2),
		limit("b3", "C", Buy, 5, 101, 3),
		limit("a1", "D", Sell, 5, 105, 4),
		limit("a2", "E", Sell, 5, 103, 5),
	}
	for _, o := range orders {
		if err := b.Insert(o); err != nil {
			t.Fatalf("insert %s: %v", o.ID, err)
		}
	}

	bid, ok := b.BestBid()
	if !ok || bid.ID != "b2" {
		t.Errorf("best bid = %v, want b2", bid.ID)
	}
	ask, ok := b.BestAsk()
	if !ok || ask.ID != "a2" {
		t.Errorf("best ask = %v, want a2", ask.ID)
	}

	top := b.TopN(Buy, 5)
	want := []string{"b2", "b3", "b1"}
	if len(top) != len(want) {
		t.Fatalf("topN len = %d, want %d", len(top), len(want))
	}
	for i, id := range want {
		if top[i].ID != id {
			t.Errorf("topN[%d] = %s, want %s", i, top[i].ID, id)
		}
	}

	if b.Crossed() {
		t.Errorf("book should not be crossed")
	}
}

func TestInsertRejectsDuplicateAndInvalid(t *testing.T) {
	b := NewBook("T")
	if err := b.Insert(limit("x", "A", Buy, 1, 10, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := b.Insert(limit("x", "A", Buy, 1, 10, 2)); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("err = %v, want ErrDuplicateOrder", err)
	}
	if err := b.Insert(limit("y", "A", Buy, 0, 10, 3)); err == nil {
		t.Errorf("expected error for zero quantity")
	}
	if err := b.Insert(limit("z", "A", Sell, 1, 0, 4)); err == nil {
		t.Errorf("expected error for zero price")
	}
}

func TestReduceAndRemove(t *testing.T) {
	b := NewBook("T")
	_ = b.Insert(limit("a", "A", Sell, 10, 100, 1))
	_ = b.Insert(limit("b", "B", Sell, 4, 100, 2))

	left, err := b.Reduce("a", 3)
	if err != nil || left != 7 {
		t.Fatalf("reduce: left=%d err=%v", left, err)
	}
	if got := b.Depth(Sell, 0); len(got) != 1 || got[0].Quantity != 11 || got[0].Orders != 2 {
		t.Errorf("depth = %+v", got)
	}

	if _, err := b.Reduce("a", 8); err == nil {
		t.Errorf("expected over-reduce error")
	}
	if left, _ := b.Reduce("a", 7); left != 0 {
		t.Errorf("left = %d, want 0", left)
	}
	if _, ok := b.Find("a"); ok {
		t.Errorf("exhausted order should be removed")
	}

	o, ok := b.Remove("b")
	if !ok || o.Quantity != 4 {
		t.Fatalf("remove b: %+v %v", o, ok)
	}
	if b.Len() != 0 || len(b.Depth(Sell, 0)) != 0 {
		t.Errorf("book should be empty")
	}
	if _, ok := b.Remove("b"); ok {
		t.Errorf("second remove should fail")
	}
	if _, err := b.Reduce("b", 1); !errors.Is(err, ErrNotResting) {
		t.Errorf("err = %v, want ErrNotResting", err)
	}
}

func TestFindByOwnerPrice(t *testing.T) {
	b := NewBook("T")
	_ = b.Insert(limit("1", "User_1", Buy, 1, 100, 1))
	_ = b.Insert(limit("2", "Bot_Noise", Buy, 1, 100, 2))
	_ = b.Insert(limit("3", "User_1", Buy, 2, 100, 3))
	_ = b.Insert(limit("4", "User_1", Buy, 2, 99, 4))

	got := b.FindByOwnerPrice(Buy, "User_1", 100)
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("got %+v", got)
	}
	if got := b.FindByOwnerPrice(Sell, "User_1", 100); len(got) != 0 {
		t.Errorf("sell side should be empty, got %+v", got)
	}
}

func TestDepthLimit(t *testing.T) {
	b := NewBook("T")
	for i, p := range []int64{95, 99, 97, 98, 96, 94} {
		_ = b.Insert(limit(string(rune('a'+i)), "A", Buy, 1, p, uint64(i)))
	}
	got := b.Depth(Buy, 3)
	want := []int64{99, 98, 97}
	if len(got) != 3 {
		t.Fatalf("depth len = %d", len(got))
	}
	for i, p := range want {
		if got[i].Price != p {
			t.Errorf("depth[%d] = %d, want %d", i, got[i].Price, p)
		}
	}
	if v := b.Volume(Buy); v != 6 {
		t.Errorf("volume = %d, want 6", v)
	}
}

func TestParseSideKind(t *testing.T) {
	tests := []struct {
		in      string
		side    Side
		wantErr bool
	}{
		{"buy", Buy, false},
		{"SELL", Sell, false},
		{" Buy ", Buy, false},
		{"hold", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSide(tt.in)
		if (err != nil) != tt.wantErr || got != tt.side {
			t.Errorf("ParseSide(%q) = %v, %v", tt.in, got, err)
		}
	}

	if k, err := ParseKind(""); err != nil || k != Limit {
		t.Errorf("empty kind = %v, %v", k, err)
	}
	if k, err := ParseKind("market"); err != nil || k != Market {
		t.Errorf("market kind = %v, %v", k, err)
	}
	if _, err := ParseKind("stop"); err == nil {
		t.Errorf("expected error for stop")
	}
}
