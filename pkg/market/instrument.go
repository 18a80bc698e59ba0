package market

import (
	"fmt"
	"sync/atomic"
)

// Status defines the trading status of an instrument
type Status int32

const (
	Active Status = iota // Trading enabled
	Halted               // Orders rejected, book kept
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Halted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// Instrument is the per-ticker state shared by the matching engine, the noise trader and the
// quote publisher. CurrentPrice is written only by the matching engine after a trade executes.
type Instrument struct {
	Ticker      string
	DisplayName string
	Sector      string
	TotalShares int64

	price  atomic.Int64 // won
	status atomic.Int32
}

// NewInstrument creates an active instrument with validation
func NewInstrument(ticker, displayName, sector string, price, totalShares int64) (*Instrument, error) {
	if ticker == "" {
		return nil, fmt.Errorf("ticker cannot be empty")
	}
	if price <= 0 {
		return nil, fmt.Errorf("initial price must be positive: %d", price)
	}
	if totalShares < 0 {
		return nil, fmt.Errorf("total shares cannot be negative: %d", totalShares)
	}
	if displayName == "" {
		displayName = ticker
	}

	inst := &Instrument{
		Ticker:      ticker,
		DisplayName: displayName,
		Sector:      sector,
		TotalShares: totalShares,
	}
	inst.price.Store(price)
	return inst, nil
}

// CurrentPrice returns the last traded (or initial) price
func (i *Instrument) CurrentPrice() int64 {
	return i.price.Load()
}

// SetPrice records a trade price. Non-positive prices are ignored.
func (i *Instrument) SetPrice(p int64) {
	if p > 0 {
		i.price.Store(p)
	}
}

func (i *Instrument) Status() Status {
	return Status(i.status.Load())
}

func (i *Instrument) IsActive() bool {
	return i.Status() == Active
}
