package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"
)

// Tx is the view of the ledger inside one unit of work (or a read-only snapshot).
// Reads observe the unit's own earlier writes.
type Tx struct {
	r              pebble.Reader
	w              *pebble.Batch // nil for read-only views
	now            time.Time
	initialBalance int64
}

func (tx *Tx) Now() time.Time { return tx.now }

func (tx *Tx) get(key []byte, v any) (bool, error) {
	data, closer, err := tx.r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (tx *Tx) has(key []byte) (bool, error) {
	_, closer, err := tx.r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	closer.Close()
	return true, nil
}

func (tx *Tx) put(key []byte, v any) error {
	if tx.w == nil {
		return errReadOnly
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return tx.w.Set(key, data, nil)
}

func (tx *Tx) del(key []byte) error {
	if tx.w == nil {
		return errReadOnly
	}
	return tx.w.Delete(key, nil)
}

// scan calls fn with every key/value under prefix in key order. reverse walks newest first.
func (tx *Tx) scan(prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	iter, err := tx.r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iterate %s: %w", prefix, err)
	}
	defer iter.Close()

	first, next := iter.First, iter.Next
	if reverse {
		first, next = iter.Last, iter.Prev
	}
	for ok := first(); ok; ok = next() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

// nextID hands out the next value of a named sequence, starting at 1
func (tx *Tx) nextID(name string) (uint64, error) {
	var cur uint64
	if _, err := tx.get(seqKey(name), &cur); err != nil {
		return 0, err
	}
	cur++
	if err := tx.put(seqKey(name), cur); err != nil {
		return 0, err
	}
	return cur, nil
}

// User loads a user or returns ErrUserNotFound
func (tx *Tx) User(userID uint64) (User, error) {
	var u User
	ok, err := tx.get(userKey(userID), &u)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	return u, nil
}

func (tx *Tx) putUser(u User) error {
	return tx.put(userKey(u.ID), u)
}

// Debit takes amount from a user's cash balance
func (tx *Tx) Debit(userID uint64, amount int64) (User, error) {
	if amount < 0 {
		return User{}, fmt.Errorf("%w: debit %d", ErrInvalidAmount, amount)
	}
	u, err := tx.User(userID)
	if err != nil {
		return User{}, err
	}
	if u.Balance < amount {
		return User{}, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, u.Balance, amount)
	}
	u.Balance -= amount
	return u, tx.putUser(u)
}

// Credit adds amount to a user's cash balance
func (tx *Tx) Credit(userID uint64, amount int64) (User, error) {
	if amount < 0 {
		return User{}, fmt.Errorf("%w: credit %d", ErrInvalidAmount, amount)
	}
	u, err := tx.User(userID)
	if err != nil {
		return User{}, err
	}
	u.Balance += amount
	return u, tx.putUser(u)
}

// Holding returns the user's position in ticker; a missing position is a zero holding
func (tx *Tx) Holding(userID uint64, ticker string) (Holding, error) {
	h := Holding{UserID: userID, Ticker: ticker}
	if _, err := tx.get(holdingKey(userID, ticker), &h); err != nil {
		return Holding{}, err
	}
	return h, nil
}

// UpsertHolding writes a position; zero quantity removes it
func (tx *Tx) UpsertHolding(h Holding) error {
	if h.Quantity < 0 {
		return fmt.Errorf("%w: holding %s quantity %d", ErrInsufficientShares, h.Ticker, h.Quantity)
	}
	if h.Quantity == 0 {
		return tx.del(holdingKey(h.UserID, h.Ticker))
	}
	return tx.put(holdingKey(h.UserID, h.Ticker), h)
}

// addShares credits qty shares bought (or refunded) at price, updating the weighted average
func (tx *Tx) addShares(userID uint64, ticker string, qty, price int64) (Holding, error) {
	h, err := tx.Holding(userID, ticker)
	if err != nil {
		return Holding{}, err
	}
	h.AvgPrice = weightedAverage(h.Quantity, h.AvgPrice, qty, price)
	h.Quantity += qty
	return h, tx.UpsertHolding(h)
}

// AppendTransaction writes a journal line stamped with the unit's time
func (tx *Tx) AppendTransaction(t Transaction) (Transaction, error) {
	id, err := tx.nextID("tx")
	if err != nil {
		return Transaction{}, err
	}
	t.ID = id
	t.CreatedAt = tx.now
	return t, tx.put(txKey(t.UserID, id), t)
}

// Order loads a durable order record
func (tx *Tx) Order(id uint64) (OrderRecord, error) {
	var rec OrderRecord
	ok, err := tx.get(orderKey(id), &rec)
	if err != nil {
		return OrderRecord{}, err
	}
	if !ok {
		return OrderRecord{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return rec, nil
}

// putOrder writes a record and keeps the pending index in step with its status
func (tx *Tx) putOrder(rec OrderRecord) error {
	rec.UpdatedAt = tx.now
	if err := tx.put(orderKey(rec.ID), rec); err != nil {
		return err
	}
	if rec.Status == StatusPending {
		return tx.put(pendingKey(rec.ID), pendingRef{ID: rec.ID, Ticker: rec.Ticker})
	}
	return tx.del(pendingKey(rec.ID))
}

func (tx *Tx) pendingOrder(id uint64) (OrderRecord, error) {
	rec, err := tx.Order(id)
	if err != nil {
		return OrderRecord{}, err
	}
	if rec.Status != StatusPending {
		return rec, fmt.Errorf("%w: order %d is %s", ErrNotPending, id, rec.Status)
	}
	return rec, nil
}

// amount is price*qty in won, rejecting products that do not fit in an int64
func amount(price, qty int64) (int64, error) {
	if price < 0 || qty < 0 {
		return 0, fmt.Errorf("%w: %d x %d", ErrInvalidAmount, qty, price)
	}
	if price != 0 && qty > math.MaxInt64/price {
		return 0, fmt.Errorf("%w: %d x %d overflows", ErrInvalidAmount, qty, price)
	}
	return price * qty, nil
}

func weightedAverage(oldQty, oldAvg, addQty, addPrice int64) int64 {
	total := oldQty + addQty
	if total <= 0 {
		return 0
	}
	cost := decimal.NewFromInt(oldQty).Mul(decimal.NewFromInt(oldAvg)).
		Add(decimal.NewFromInt(addQty).Mul(decimal.NewFromInt(addPrice)))
	return cost.Div(decimal.NewFromInt(total)).Round(0).IntPart()
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
