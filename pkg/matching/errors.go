package matching

import (
	"errors"

	"github.com/uhyunpark/stocksim/pkg/market"
)

var (
	ErrInvalidOrder    = errors.New("invalid order")
	ErrUnknownTicker   = market.ErrUnknownTicker
	ErrUnsupportedKind = errors.New("unsupported order kind")
	ErrOrderNotFound   = errors.New("order not found")
	ErrHalted          = errors.New("trading halted")
)
