package ledger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

// InsertPendingOrder escrows funds (BUY) or shares (SELL) and records a PENDING order in one
// unit of work. Nothing is written when escrow fails.
func (s *Store) InsertPendingOrder(ctx context.Context, o NewOrder) (OrderRecord, error) {
	if o.Quantity <= 0 || o.Price <= 0 {
		return OrderRecord{}, fmt.Errorf("%w: %d@%d", ErrInvalidAmount, o.Quantity, o.Price)
	}
	if !o.Side.Valid() {
		return OrderRecord{}, fmt.Errorf("%w: side %d", ErrInvalidAmount, o.Side)
	}
	cost, err := amount(o.Price, o.Quantity)
	if err != nil {
		return OrderRecord{}, err
	}

	var rec OrderRecord
	err = s.Update(ctx, func(tx *Tx) error {
		id, err := tx.nextID("order")
		if err != nil {
			return err
		}
		rec = OrderRecord{
			ID:            id,
			UserID:        o.UserID,
			Ticker:        o.Ticker,
			Side:          o.Side,
			Price:         o.Price,
			Quantity:      o.Quantity,
			Remaining:     o.Quantity,
			Status:        StatusPending,
			EngineOrderID: EngineOrderID(id),
			CreatedAt:     tx.now,
		}

		line := Transaction{UserID: o.UserID, Type: TxEscrow, Ticker: o.Ticker, Price: o.Price, OrderID: id}
		if o.Side == orderbook.Buy {
			u, err := tx.Debit(o.UserID, cost)
			if err != nil {
				return err
			}
			line.Amount = -cost
			line.BalanceAfter = u.Balance
			line.Description = fmt.Sprintf("escrow BUY %d %s @ %d", o.Quantity, o.Ticker, o.Price)
		} else {
			u, err := tx.User(o.UserID)
			if err != nil {
				return err
			}
			h, err := tx.Holding(o.UserID, o.Ticker)
			if err != nil {
				return err
			}
			if h.Quantity < o.Quantity {
				return fmt.Errorf("%w: hold %d %s, need %d", ErrInsufficientShares, h.Quantity, o.Ticker, o.Quantity)
			}
			h.Quantity -= o.Quantity
			if err := tx.UpsertHolding(h); err != nil {
				return err
			}
			rec.CostBasis = h.AvgPrice
			line.Quantity = -o.Quantity
			line.BalanceAfter = u.Balance
			line.Description = fmt.Sprintf("escrow SELL %d %s @ %d", o.Quantity, o.Ticker, o.Price)
		}

		if _, err := tx.AppendTransaction(line); err != nil {
			return err
		}
		if err := tx.put(userOrderKey(o.UserID, id), id); err != nil {
			return err
		}
		return tx.putOrder(rec)
	})
	if err != nil {
		return OrderRecord{}, err
	}
	return rec, nil
}

// GetOrder loads a record by id
func (s *Store) GetOrder(id uint64) (OrderRecord, error) {
	var rec OrderRecord
	err := s.View(func(tx *Tx) error {
		var err error
		rec, err = tx.Order(id)
		return err
	})
	return rec, err
}

// MarkLive flags a PENDING record as admitted to the book
func (s *Store) MarkLive(ctx context.Context, id uint64) error {
	return s.Update(ctx, func(tx *Tx) error {
		rec, err := tx.pendingOrder(id)
		if err != nil {
			return err
		}
		rec.Live = true
		return tx.putOrder(rec)
	})
}

// ListPending returns PENDING records in id order. An empty ticker or a zero side matches all.
func (s *Store) ListPending(ticker string, side orderbook.Side) ([]OrderRecord, error) {
	var out []OrderRecord
	err := s.View(func(tx *Tx) error {
		var refs []pendingRef
		err := tx.scan([]byte(prefixPending), false, func(_, v []byte) (bool, error) {
			var ref pendingRef
			if err := decode(v, &ref); err != nil {
				return false, err
			}
			if ticker == "" || ref.Ticker == ticker {
				refs = append(refs, ref)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, ref := range refs {
			rec, err := tx.Order(ref.ID)
			if err != nil {
				return err
			}
			if side != 0 && rec.Side != side {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// OrdersByUser returns a user's records newest first. pendingOnly filters to PENDING.
func (s *Store) OrdersByUser(userID uint64, pendingOnly bool, limit int) ([]OrderRecord, error) {
	var out []OrderRecord
	err := s.View(func(tx *Tx) error {
		if _, err := tx.User(userID); err != nil {
			return err
		}
		var ids []uint64
		err := tx.scan(userOrderPrefix(userID), true, func(_, v []byte) (bool, error) {
			var id uint64
			if err := decode(v, &id); err != nil {
				return false, err
			}
			ids = append(ids, id)
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := tx.Order(id)
			if err != nil {
				return err
			}
			if pendingOnly && rec.Status != StatusPending {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// MarkFilled closes a PENDING record as FILLED without moving money or shares
func (s *Store) MarkFilled(ctx context.Context, id uint64) error {
	return s.Update(ctx, func(tx *Tx) error {
		rec, err := tx.pendingOrder(id)
		if err != nil {
			return err
		}
		rec.Status = StatusFilled
		rec.Remaining = 0
		return tx.putOrder(rec)
	})
}

// MarkCancelled closes a PENDING record as CANCELLED without refunding escrow
func (s *Store) MarkCancelled(ctx context.Context, id uint64) error {
	return s.Update(ctx, func(tx *Tx) error {
		rec, err := tx.pendingOrder(id)
		if err != nil {
			return err
		}
		rec.Status = StatusCancelled
		return tx.putOrder(rec)
	})
}

// ApplyFill settles one side of one trade against its record. A fill already settled
// (same trade id and side) is a no-op with Applied=false.
func (s *Store) ApplyFill(ctx context.Context, f Fill) (Settlement, error) {
	if f.Quantity <= 0 || f.Price <= 0 {
		return Settlement{}, fmt.Errorf("%w: fill %d@%d", ErrInvalidAmount, f.Quantity, f.Price)
	}

	var out Settlement
	err := s.Update(ctx, func(tx *Tx) error {
		out = Settlement{}
		done, err := tx.has(fillKey(f.TradeID, f.Side))
		if err != nil {
			return err
		}
		if done {
			out.Record, err = tx.Order(f.RecordID)
			return err
		}

		rec, err := tx.pendingOrder(f.RecordID)
		if err != nil {
			return err
		}
		if rec.Side != f.Side {
			return fmt.Errorf("fill side %s does not match order %d side %s", f.Side, rec.ID, rec.Side)
		}
		if f.Quantity > rec.Remaining {
			return fmt.Errorf("%w: order %d remaining %d, fill %d", ErrOverfill, rec.ID, rec.Remaining, f.Quantity)
		}

		out, err = tx.settle(rec, f.Quantity, f.Price, "trade "+f.TradeID)
		if err != nil {
			return err
		}
		return tx.put(fillKey(f.TradeID, f.Side), rec.ID)
	})
	return out, err
}

// SettleRemaining treats a PENDING record's remaining quantity as filled at its own price
// and marks it FILLED. Used when the order is no longer on the book.
func (s *Store) SettleRemaining(ctx context.Context, id uint64) (Settlement, error) {
	var out Settlement
	err := s.Update(ctx, func(tx *Tx) error {
		rec, err := tx.pendingOrder(id)
		if err != nil {
			return err
		}
		out, err = tx.settle(rec, rec.Remaining, rec.Price, "settled by reconciliation")
		return err
	})
	return out, err
}

// CancelOrder refunds the remaining escrow of a PENDING record and marks it CANCELLED
func (s *Store) CancelOrder(ctx context.Context, id uint64, reason string) (OrderRecord, error) {
	var out OrderRecord
	err := s.Update(ctx, func(tx *Tx) error {
		rec, err := tx.pendingOrder(id)
		if err != nil {
			return err
		}

		line := Transaction{UserID: rec.UserID, Type: TxRefund, Ticker: rec.Ticker, Price: rec.Price, OrderID: rec.ID}
		if rec.Side == orderbook.Buy {
			refund, err := amount(rec.Price, rec.Remaining)
			if err != nil {
				return err
			}
			u, err := tx.Credit(rec.UserID, refund)
			if err != nil {
				return err
			}
			line.Amount = refund
			line.BalanceAfter = u.Balance
		} else {
			u, err := tx.User(rec.UserID)
			if err != nil {
				return err
			}
			if rec.Remaining > 0 {
				if _, err := tx.addShares(rec.UserID, rec.Ticker, rec.Remaining, rec.CostBasis); err != nil {
					return err
				}
			}
			line.Quantity = rec.Remaining
			line.BalanceAfter = u.Balance
		}
		line.Description = fmt.Sprintf("cancel %s %d %s: %s", rec.Side, rec.Remaining, rec.Ticker, reason)
		if _, err := tx.AppendTransaction(line); err != nil {
			return err
		}

		rec.Status = StatusCancelled
		out = rec
		return tx.putOrder(rec)
	})
	if err == nil {
		s.log.Debug("order_record_cancelled", zap.Uint64("order_id", id), zap.String("reason", reason))
	}
	return out, err
}

// settle moves qty of rec at price: shares in and price improvement back for BUY,
// proceeds in for SELL. Flips first-fill flags and closes the record when nothing remains.
func (tx *Tx) settle(rec OrderRecord, qty, price int64, desc string) (Settlement, error) {
	out := Settlement{Applied: true, Quantity: qty}

	if qty > 0 {
		line := Transaction{UserID: rec.UserID, Type: TxFill, Ticker: rec.Ticker, Price: price, OrderID: rec.ID}
		if rec.Side == orderbook.Buy {
			if _, err := tx.addShares(rec.UserID, rec.Ticker, qty, price); err != nil {
				return Settlement{}, err
			}
			improvement, err := amount(rec.Price-price, qty)
			if err != nil {
				return Settlement{}, err
			}
			u, err := tx.Credit(rec.UserID, improvement)
			if err != nil {
				return Settlement{}, err
			}
			line.Quantity = qty
			line.Amount = improvement
			line.BalanceAfter = u.Balance
		} else {
			proceeds, err := amount(price, qty)
			if err != nil {
				return Settlement{}, err
			}
			u, err := tx.Credit(rec.UserID, proceeds)
			if err != nil {
				return Settlement{}, err
			}
			line.Amount = proceeds
			line.BalanceAfter = u.Balance
		}
		line.Description = fmt.Sprintf("%s %d %s @ %d (%s)", rec.Side, qty, rec.Ticker, price, desc)
		if _, err := tx.AppendTransaction(line); err != nil {
			return Settlement{}, err
		}

		u, err := tx.User(rec.UserID)
		if err != nil {
			return Settlement{}, err
		}
		switch {
		case rec.Side == orderbook.Buy && !u.FirstBuyDone:
			u.FirstBuyDone = true
			out.FirstBuy = true
		case rec.Side == orderbook.Sell && !u.FirstSellDone:
			u.FirstSellDone = true
			out.FirstSell = true
		}
		if out.FirstBuy || out.FirstSell {
			if err := tx.putUser(u); err != nil {
				return Settlement{}, err
			}
		}
	}

	rec.Remaining -= qty
	if rec.Remaining == 0 {
		rec.Status = StatusFilled
	}
	out.Record = rec
	return out, tx.putOrder(rec)
}

type pendingRef struct {
	ID     uint64 `json:"id"`
	Ticker string `json:"ticker"`
}

// SavePrices persists last prices by ticker
func (s *Store) SavePrices(ctx context.Context, prices map[string]int64) error {
	if len(prices) == 0 {
		return nil
	}
	return s.Update(ctx, func(tx *Tx) error {
		for ticker, p := range prices {
			if err := tx.put(priceKey(ticker), p); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadPrices returns every persisted price
func (s *Store) LoadPrices() (map[string]int64, error) {
	out := make(map[string]int64)
	err := s.View(func(tx *Tx) error {
		return tx.scan([]byte(prefixPrice), false, func(k, v []byte) (bool, error) {
			var p int64
			if err := decode(v, &p); err != nil {
				return false, err
			}
			out[strings.TrimPrefix(string(k), prefixPrice)] = p
			return true, nil
		})
	})
	return out, err
}
