package market

import (
	"errors"
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	inst, err := NewInstrument("SAMSUNG", "삼성전자", "Tech", 70000, 1000000)
	if err != nil {
		t.Fatalf("new instrument: %v", err)
	}
	if err := r.Register(inst); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := r.Get("SAMSUNG")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentPrice() != 70000 {
		t.Errorf("price = %d, want 70000", got.CurrentPrice())
	}

	if err := r.Register(inst); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate register err = %v, want ErrAlreadyRegistered", err)
	}
	if _, err := r.Get("NOPE"); !errors.Is(err, ErrUnknownTicker) {
		t.Errorf("unknown ticker err = %v, want ErrUnknownTicker", err)
	}
}

func TestNewInstrumentValidation(t *testing.T) {
	tests := []struct {
		name   string
		ticker string
		price  int64
		shares int64
	}{
		{"empty ticker", "", 100, 10},
		{"zero price", "A", 0, 10},
		{"negative price", "A", -5, 10},
		{"negative shares", "A", 100, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewInstrument(tt.ticker, "", "", tt.price, tt.shares); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestSetPriceIgnoresNonPositive(t *testing.T) {
	inst, _ := NewInstrument("A", "", "", 100, 0)
	inst.SetPrice(0)
	inst.SetPrice(-3)
	if inst.CurrentPrice() != 100 {
		t.Errorf("price = %d, want 100", inst.CurrentPrice())
	}
	inst.SetPrice(120)
	if inst.CurrentPrice() != 120 {
		t.Errorf("price = %d, want 120", inst.CurrentPrice())
	}
}

func TestListSortedAndStatus(t *testing.T) {
	r := NewRegistry()
	for _, tk := range []string{"C", "A", "B"} {
		inst, _ := NewInstrument(tk, "", "", 10, 0)
		_ = r.Register(inst)
	}

	got := r.Tickers()
	want := []string{"A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tickers = %v, want %v", got, want)
		}
	}

	if err := r.UpdateStatus("B", Halted); err != nil {
		t.Fatalf("update status: %v", err)
	}
	b, _ := r.Get("B")
	if b.IsActive() {
		t.Errorf("expected B halted")
	}
	if err := r.UpdateStatus("Z", Halted); !errors.Is(err, ErrUnknownTicker) {
		t.Errorf("err = %v, want ErrUnknownTicker", err)
	}
}
