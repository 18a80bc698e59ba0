package matching

import "fmt"

// SelfTradePolicy decides what happens when an incoming order would match a resting order of the
// same owner.
type SelfTradePolicy uint8

const (
	// SelfTradeAllow matches same-owner orders like any other pair
	SelfTradeAllow SelfTradePolicy = iota
	// SelfTradeCancelResting removes the resting order and keeps matching
	SelfTradeCancelResting
	// SelfTradeCancelIncoming drops the rest of the incoming order
	SelfTradeCancelIncoming
)

func (p SelfTradePolicy) String() string {
	switch p {
	case SelfTradeAllow:
		return "allow"
	case SelfTradeCancelResting:
		return "cancel_resting"
	case SelfTradeCancelIncoming:
		return "cancel_incoming"
	default:
		return "unknown"
	}
}

func ParseSelfTradePolicy(s string) (SelfTradePolicy, error) {
	switch s {
	case "", "allow":
		return SelfTradeAllow, nil
	case "cancel_resting":
		return SelfTradeCancelResting, nil
	case "cancel_incoming":
		return SelfTradeCancelIncoming, nil
	}
	return 0, fmt.Errorf("unknown self-trade policy %q", s)
}

// RemainderPolicy decides what happens to a MARKET order once the opposite side runs dry.
type RemainderPolicy uint8

const (
	// RemainderDiscard drops the unfilled quantity
	RemainderDiscard RemainderPolicy = iota
	// RemainderRestAtLast rests the unfilled quantity as a LIMIT order at the last traded price
	RemainderRestAtLast
)

func (p RemainderPolicy) String() string {
	switch p {
	case RemainderDiscard:
		return "discard"
	case RemainderRestAtLast:
		return "rest_at_last"
	default:
		return "unknown"
	}
}

func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch s {
	case "", "discard":
		return RemainderDiscard, nil
	case "rest_at_last":
		return RemainderRestAtLast, nil
	}
	return 0, fmt.Errorf("unknown market remainder policy %q", s)
}
