package ledger

import (
	"fmt"
	"time"

	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

type User struct {
	ID            uint64    `json:"id"`
	Username      string    `json:"username"`
	Balance       int64     `json:"balance"` // won
	FirstBuyDone  bool      `json:"firstBuyDone"`
	FirstSellDone bool      `json:"firstSellDone"`
	CreatedAt     time.Time `json:"createdAt"`
}

// OwnerID is the order owner string the matching engine sees for this user
func OwnerID(userID uint64) string {
	return fmt.Sprintf("User_%d", userID)
}

type Holding struct {
	UserID   uint64 `json:"userId"`
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
	AvgPrice int64  `json:"avgPrice"` // weighted average cost, won
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// OrderRecord is the durable side of a user order. Escrow for Remaining is held
// until the record leaves PENDING.
type OrderRecord struct {
	ID            uint64         `json:"id"`
	UserID        uint64         `json:"userId"`
	Ticker        string         `json:"ticker"`
	Side          orderbook.Side `json:"side"`
	Price         int64          `json:"price"` // limit price, escrow is computed at this price
	Quantity      int64          `json:"quantity"`
	Remaining     int64          `json:"remaining"`
	Status        Status         `json:"status"`
	EngineOrderID string         `json:"engineOrderId"`
	// Live is set once the order has been admitted to the book. Reconciliation ignores
	// records that were never live.
	Live bool `json:"live"`
	// CostBasis is the average price of shares escrowed by a SELL, used when refunding them
	CostBasis int64     `json:"costBasis,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EngineOrderID derives the book order id for a record
func EngineOrderID(recordID uint64) string {
	return fmt.Sprintf("U-%d", recordID)
}

type TxType string

const (
	TxDeposit TxType = "DEPOSIT"
	TxEscrow  TxType = "ESCROW"
	TxFill    TxType = "FILL"
	TxRefund  TxType = "REFUND"
	TxReward  TxType = "REWARD"
)

// Transaction is one journal line. Amount is the signed change to the cash balance and
// Quantity the signed change to the holding of Ticker.
type Transaction struct {
	ID           uint64    `json:"id"`
	UserID       uint64    `json:"userId"`
	Type         TxType    `json:"type"`
	Ticker       string    `json:"ticker,omitempty"`
	Amount       int64     `json:"amount"`
	Quantity     int64     `json:"quantity,omitempty"`
	Price        int64     `json:"price,omitempty"`
	OrderID      uint64    `json:"orderId,omitempty"`
	BalanceAfter int64     `json:"balanceAfter"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewOrder is an escrow request
type NewOrder struct {
	UserID   uint64
	Ticker   string
	Side     orderbook.Side
	Price    int64
	Quantity int64
}

// Fill is one side of one trade applied to a durable record
type Fill struct {
	TradeID  string
	RecordID uint64
	Side     orderbook.Side
	Price    int64
	Quantity int64
}

// Settlement describes what a fill or settle did to a record
type Settlement struct {
	Record    OrderRecord
	Applied   bool // false when the fill had already been settled
	Quantity  int64
	FirstBuy  bool
	FirstSell bool
}
