package orderbook

import (
	"fmt"
	"strings"
	"time"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side an order of this side matches against
func (s Side) Opposite() Side {
	return -s
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide accepts "BUY"/"SELL" in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, fmt.Errorf("invalid side %q", s)
}

type Kind uint8

const (
	Limit Kind = iota + 1
	Market
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// ParseKind accepts "LIMIT"/"MARKET" in any case. An empty string means LIMIT.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "LIMIT":
		return Limit, nil
	case "MARKET":
		return Market, nil
	}
	return 0, fmt.Errorf("invalid order kind %q", s)
}

type Order struct {
	ID         string
	OwnerID    string // "User_<id>" or "Bot_Noise"
	Ticker     string
	Side       Side
	Kind       Kind
	Quantity   int64 // remaining; the only field that changes after admission
	LimitPrice int64 // won, LIMIT only
	Sequence   uint64
	Ref        uint64 // durable order record id, 0 for synthetic orders
	CreatedAt  time.Time
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %d@%d owner=%s seq=%d", o.ID, o.Ticker, o.Side, o.Quantity, o.LimitPrice, o.OwnerID, o.Sequence)
}

// PriceLevel is the aggregated view of one price on one side
type PriceLevel struct {
	Price    int64
	Quantity int64
	Orders   int
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
