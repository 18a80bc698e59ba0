package api

import (
	"time"

	"github.com/uhyunpark/stocksim/pkg/ledger"
	"github.com/uhyunpark/stocksim/pkg/quote"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// CreateUserRequest is the payload for POST /api/v1/users
type CreateUserRequest struct {
	Username string `json:"username"`
}

// SubmitOrderRequest is the payload for POST /api/v1/orders
type SubmitOrderRequest struct {
	UserID   uint64 `json:"userId"`
	Ticker   string `json:"ticker"`
	Side     string `json:"side"` // "BUY" or "SELL"
	Kind     string `json:"kind"` // "LIMIT" (default); "MARKET" is rejected for users
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// RewardRequest is the payload for POST /api/v1/users/{id}/rewards
type RewardRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// ==============================
// REST Response Types
// ==============================

// WalletInfo is a user's cash balance plus non-zero holdings
type WalletInfo struct {
	User     ledger.User      `json:"user"`
	Holdings []ledger.Holding `json:"holdings"`
	Created  bool             `json:"created,omitempty"`
}

// SubmitOrderResponse is the response from order submission
type SubmitOrderResponse struct {
	Status string             `json:"status"` // "accepted"
	Order  ledger.OrderRecord `json:"order"`
	Trades int                `json:"trades"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["quotes:삼성전자", "trades:삼성전자"]
}

// QuoteUpdate is broadcast on quotes:<ticker> once per market tick
type QuoteUpdate struct {
	Type string           `json:"type"` // "quote"
	Data quote.MarketData `json:"data"`
}

// TradeUpdate is broadcast on trades:<ticker> when a trade executes
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	ID        string `json:"id"`
	Ticker    string `json:"ticker"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Side      string `json:"side"` // aggressor side
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
