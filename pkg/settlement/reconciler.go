package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/gamification"
	"github.com/uhyunpark/stocksim/pkg/ledger"
	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/metrics"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

// OrderLedger is the durable order ledger as settlement sees it
type OrderLedger interface {
	InsertPendingOrder(ctx context.Context, o ledger.NewOrder) (ledger.OrderRecord, error)
	ListPending(ticker string, side orderbook.Side) ([]ledger.OrderRecord, error)
	MarkLive(ctx context.Context, id uint64) error
	MarkFilled(ctx context.Context, id uint64) error
	MarkCancelled(ctx context.Context, id uint64) error
	ApplyFill(ctx context.Context, f ledger.Fill) (ledger.Settlement, error)
	SettleRemaining(ctx context.Context, id uint64) (ledger.Settlement, error)
	CancelOrder(ctx context.Context, id uint64, reason string) (ledger.OrderRecord, error)
}

// Result summarizes one Reconcile pass
type Result struct {
	Applied int // queued events settled
	Open    int // pending records still on the book
	Settled int // pending records settled by absence
	Skipped int // unknown ticker, ambiguous or already closed
}

// Reconciler settles engine events into the ledger exactly once and, as a safety net,
// settles PENDING records whose orders have left the book without an event.
type Reconciler struct {
	log      *zap.Logger
	engine   *matching.Engine
	registry *market.Registry
	ledger   OrderLedger
	hook     gamification.Hook
	metrics  *metrics.Metrics
	queue    *Queue
}

func NewReconciler(log *zap.Logger, engine *matching.Engine, registry *market.Registry, l OrderLedger, hook gamification.Hook, m *metrics.Metrics) *Reconciler {
	if hook == nil {
		hook = gamification.Nop{}
	}
	return &Reconciler{
		log:      log.Named("settlement"),
		engine:   engine,
		registry: registry,
		ledger:   l,
		hook:     hook,
		metrics:  m,
		queue:    NewQueue(),
	}
}

// OnTrade implements matching.Sink
func (r *Reconciler) OnTrade(t matching.Trade) {
	r.Enqueue(FromTrade(t)...)
}

// OnExpire implements matching.Sink
func (r *Reconciler) OnExpire(x matching.Expiry) {
	if ev, ok := FromExpiry(x); ok {
		r.Enqueue(ev)
	}
}

// Enqueue queues events for the next drain of their ticker
func (r *Reconciler) Enqueue(evs ...Event) {
	r.queue.Push(evs...)
}

// Pending is the number of unapplied events across all tickers
func (r *Reconciler) Pending() int {
	return r.queue.Len("")
}

// Drain applies every queued event for ticker while holding the ticker lock
func (r *Reconciler) Drain(ctx context.Context, ticker string) (int, error) {
	var n int
	err := r.engine.WithTicker(ticker, func(l *matching.Locked) error {
		var err error
		n, err = r.DrainLocked(ctx, l)
		return err
	})
	return n, err
}

// DrainLocked is Drain for callers already inside engine.WithTicker.
// On a ledger failure the failed event and everything after it go back on the queue.
func (r *Reconciler) DrainLocked(ctx context.Context, l *matching.Locked) (int, error) {
	ticker := l.Ticker()
	evs := r.queue.Take(ticker)

	applied := 0
	for i, ev := range evs {
		if err := r.apply(ctx, ev); err != nil {
			r.queue.Requeue(ticker, evs[i:])
			return applied, fmt.Errorf("apply %s event for order %d: %w", ev.Kind, ev.RecordID, err)
		}
		applied++
	}
	return applied, nil
}

// apply settles one event. Events the ledger has already moved past are logged and dropped.
func (r *Reconciler) apply(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventFill:
		res, err := r.ledger.ApplyFill(ctx, ledger.Fill{
			TradeID:  ev.TradeID,
			RecordID: ev.RecordID,
			Side:     ev.Side,
			Price:    ev.Price,
			Quantity: ev.Quantity,
		})
		if r.skippable(err) {
			r.log.Warn("fill_skipped", zap.String("trade_id", ev.TradeID), zap.Uint64("order_id", ev.RecordID), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		if res.Applied {
			r.metrics.Settled(ev.Ticker, "fill")
			r.log.Debug("fill_settled",
				zap.String("ticker", ev.Ticker),
				zap.Uint64("order_id", ev.RecordID),
				zap.Stringer("side", ev.Side),
				zap.Int64("qty", ev.Quantity),
				zap.Int64("price", ev.Price),
				zap.Int64("remaining", res.Record.Remaining),
			)
			r.notify(ctx, res)
		}
		return nil

	case EventExpire:
		_, err := r.ledger.CancelOrder(ctx, ev.RecordID, string(ev.Reason))
		if r.skippable(err) {
			r.log.Warn("expire_skipped", zap.Uint64("order_id", ev.RecordID), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		r.metrics.Settled(ev.Ticker, "expire")
		r.log.Info("order_expired", zap.String("ticker", ev.Ticker), zap.Uint64("order_id", ev.RecordID), zap.String("reason", string(ev.Reason)))
		return nil
	}
	return fmt.Errorf("unknown event kind %d", ev.Kind)
}

// skippable errors mean the event can never apply; retrying would not help
func (r *Reconciler) skippable(err error) bool {
	return errors.Is(err, ledger.ErrNotPending) ||
		errors.Is(err, ledger.ErrOrderNotFound) ||
		errors.Is(err, ledger.ErrOverfill) ||
		errors.Is(err, ledger.ErrUserNotFound)
}

// notify fires first-fill hooks. Called only after the settlement committed.
func (r *Reconciler) notify(ctx context.Context, res ledger.Settlement) {
	userID := res.Record.UserID
	if res.FirstBuy {
		if err := r.hook.OnFirstBuy(ctx, userID); err != nil {
			r.log.Warn("first_buy_hook_failed", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}
	if res.FirstSell {
		if err := r.hook.OnFirstSell(ctx, userID); err != nil {
			r.log.Warn("first_sell_hook_failed", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}
}

// Reconcile drains every ticker, then settles PENDING live records whose orders are no
// longer resting. Each ticker is checked and settled under its own lock, so a concurrent
// cancel either finishes first (record no longer PENDING) or waits.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	var res Result

	tickers := r.engine.Tickers()
	sort.Strings(tickers)
	for _, ticker := range tickers {
		n, err := r.Drain(ctx, ticker)
		res.Applied += n
		if err != nil {
			r.log.Error("drain_failed", zap.String("ticker", ticker), zap.Error(err))
		}
	}

	records, err := r.ledger.ListPending("", 0)
	if err != nil {
		return res, fmt.Errorf("list pending: %w", err)
	}

	byTicker := make(map[string][]ledger.OrderRecord)
	var order []string
	for _, rec := range records {
		if _, seen := byTicker[rec.Ticker]; !seen {
			order = append(order, rec.Ticker)
		}
		byTicker[rec.Ticker] = append(byTicker[rec.Ticker], rec)
	}

	for _, ticker := range order {
		recs := byTicker[ticker]
		if !r.registry.Exists(ticker) {
			r.log.Warn("reconcile_unknown_ticker", zap.String("ticker", ticker), zap.Int("records", len(recs)))
			res.Skipped += len(recs)
			r.count("skipped", len(recs))
			continue
		}

		err := r.engine.WithTicker(ticker, func(l *matching.Locked) error {
			n, err := r.DrainLocked(ctx, l)
			res.Applied += n
			if err != nil {
				return err
			}
			r.checkTicker(ctx, l, recs, &res)
			return nil
		})
		if err != nil {
			r.log.Error("reconcile_ticker_failed", zap.String("ticker", ticker), zap.Error(err))
		}
	}

	if res.Settled > 0 || res.Skipped > 0 {
		r.log.Info("reconcile_done",
			zap.Int("applied", res.Applied),
			zap.Int("open", res.Open),
			zap.Int("settled", res.Settled),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

type ownerPrice struct {
	user  uint64
	side  orderbook.Side
	price int64
}

func (r *Reconciler) checkTicker(ctx context.Context, l *matching.Locked, recs []ledger.OrderRecord, res *Result) {
	// Records without an engine order id can only be matched by owner and price; group them
	// so duplicates are detected instead of guessed.
	groups := make(map[ownerPrice][]ledger.OrderRecord)

	for _, rec := range recs {
		if !rec.Live {
			continue
		}
		if rec.EngineOrderID == "" {
			k := ownerPrice{user: rec.UserID, side: rec.Side, price: rec.Price}
			groups[k] = append(groups[k], rec)
			continue
		}
		if _, ok := l.Find(rec.EngineOrderID); ok {
			res.Open++
			r.count("open", 1)
			continue
		}
		r.settleAbsent(ctx, rec, res)
	}

	for k, group := range groups {
		resting := l.FindByOwnerPrice(k.side, ledger.OwnerID(k.user), k.price)
		switch {
		case len(resting) == 0:
			for _, rec := range group {
				r.settleAbsent(ctx, rec, res)
			}
		case len(resting) == len(group):
			res.Open += len(group)
			r.count("open", len(group))
		default:
			r.log.Warn("reconcile_ambiguous",
				zap.Uint64("user_id", k.user),
				zap.Int64("price", k.price),
				zap.Int("records", len(group)),
				zap.Int("resting", len(resting)),
			)
			res.Skipped += len(group)
			r.count("skipped", len(group))
		}
	}
}

func (r *Reconciler) settleAbsent(ctx context.Context, rec ledger.OrderRecord, res *Result) {
	out, err := r.ledger.SettleRemaining(ctx, rec.ID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotPending) {
			r.log.Error("reconcile_settle_failed", zap.Uint64("order_id", rec.ID), zap.Error(err))
		}
		res.Skipped++
		r.count("skipped", 1)
		return
	}
	res.Settled++
	r.count("settled", 1)
	r.metrics.Settled(rec.Ticker, "reconcile")
	r.log.Info("reconcile_filled",
		zap.Uint64("order_id", rec.ID),
		zap.String("ticker", rec.Ticker),
		zap.Stringer("side", rec.Side),
		zap.Int64("qty", out.Quantity),
		zap.Int64("price", rec.Price),
	)
	r.notify(ctx, out)
}

func (r *Reconciler) count(result string, n int) {
	for i := 0; i < n; i++ {
		r.metrics.Reconciled(result)
	}
}
