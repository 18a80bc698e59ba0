package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/ledger"
	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/metrics"
	"github.com/uhyunpark/stocksim/pkg/noise"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
	"github.com/uhyunpark/stocksim/pkg/quote"
	"github.com/uhyunpark/stocksim/pkg/settlement"
)

// QuoteSink receives a market data snapshot per ticker after every tick
type QuoteSink interface {
	PublishQuote(md quote.MarketData)
}

// Ledger is the part of the durable ledger the user order path writes
type Ledger interface {
	InsertPendingOrder(ctx context.Context, o ledger.NewOrder) (ledger.OrderRecord, error)
	GetOrder(id uint64) (ledger.OrderRecord, error)
	MarkLive(ctx context.Context, id uint64) error
	ListPending(ticker string, side orderbook.Side) ([]ledger.OrderRecord, error)
	CancelOrder(ctx context.Context, id uint64, reason string) (ledger.OrderRecord, error)
	SavePrices(ctx context.Context, prices map[string]int64) error
	LoadPrices() (map[string]int64, error)
}

const (
	DefaultMaxPrice    = 1_000_000_000 // won
	DefaultMaxQuantity = 1_000_000
)

type Config struct {
	TickInterval time.Duration
	// MaxPrice and MaxQuantity bound user orders; zero means the default
	MaxPrice    int64
	MaxQuantity int64
}

// Exchange ties user orders, the books and the ledger together and drives the market loop
type Exchange struct {
	log      *zap.Logger
	cfg      Config
	registry *market.Registry
	engine   *matching.Engine
	store    Ledger
	settle   *settlement.Reconciler
	quotes   *quote.Publisher
	noise    *noise.Trader // nil disables bot orders
	metrics  *metrics.Metrics
	sink     QuoteSink

	saved map[string]int64 // prices last written to the store; loop goroutine only
}

func New(
	log *zap.Logger,
	cfg Config,
	registry *market.Registry,
	engine *matching.Engine,
	store Ledger,
	settle *settlement.Reconciler,
	quotes *quote.Publisher,
	trader *noise.Trader,
	m *metrics.Metrics,
) *Exchange {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxPrice <= 0 {
		cfg.MaxPrice = DefaultMaxPrice
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = DefaultMaxQuantity
	}
	return &Exchange{
		log:      log.Named("exchange"),
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		store:    store,
		settle:   settle,
		quotes:   quotes,
		noise:    trader,
		metrics:  m,
		saved:    make(map[string]int64),
	}
}

// SetQuoteSink must be called before Run
func (x *Exchange) SetQuoteSink(s QuoteSink) {
	x.sink = s
}

type SubmitRequest struct {
	UserID   uint64
	Ticker   string
	Side     orderbook.Side
	Kind     orderbook.Kind
	Price    int64
	Quantity int64
}

type SubmitResult struct {
	Order  ledger.OrderRecord
	Trades int
}

func (x *Exchange) validate(req SubmitRequest) error {
	if req.Kind == orderbook.Market {
		return fmt.Errorf("%w: user orders must be LIMIT", matching.ErrUnsupportedKind)
	}
	if req.Kind != 0 && req.Kind != orderbook.Limit {
		return fmt.Errorf("%w: kind %d", matching.ErrUnsupportedKind, req.Kind)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: side %d", matching.ErrInvalidOrder, req.Side)
	}
	if req.Quantity <= 0 || req.Quantity > x.cfg.MaxQuantity {
		return fmt.Errorf("%w: quantity %d outside 1..%d", matching.ErrInvalidOrder, req.Quantity, x.cfg.MaxQuantity)
	}
	if req.Price <= 0 || req.Price > x.cfg.MaxPrice {
		return fmt.Errorf("%w: price %d outside 1..%d", matching.ErrInvalidOrder, req.Price, x.cfg.MaxPrice)
	}
	inst, err := x.registry.Get(req.Ticker)
	if err != nil {
		return err
	}
	if !inst.IsActive() {
		return fmt.Errorf("%w: %s", matching.ErrHalted, req.Ticker)
	}
	return nil
}

// Submit escrows a user limit order, admits it to the book and settles whatever it matched.
// Escrow, admission and draining happen under the ticker lock, so reconciliation never
// observes a record whose order is half admitted.
func (x *Exchange) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := x.validate(req); err != nil {
		x.metrics.OrderSubmitted(req.Ticker, "invalid")
		return SubmitResult{}, err
	}

	var (
		res     SubmitResult
		rejected error
	)
	err := x.engine.WithTicker(req.Ticker, func(l *matching.Locked) error {
		rec, err := x.store.InsertPendingOrder(ctx, ledger.NewOrder{
			UserID:   req.UserID,
			Ticker:   req.Ticker,
			Side:     req.Side,
			Price:    req.Price,
			Quantity: req.Quantity,
		})
		if err != nil {
			return err
		}
		res.Order = rec

		trades, err := l.Place(orderbook.Order{
			ID:         rec.EngineOrderID,
			OwnerID:    ledger.OwnerID(req.UserID),
			Ticker:     req.Ticker,
			Side:       req.Side,
			Kind:       orderbook.Limit,
			Quantity:   req.Quantity,
			LimitPrice: req.Price,
			Ref:        rec.ID,
		})
		if err != nil {
			rejected = err
			if _, cerr := x.store.CancelOrder(ctx, rec.ID, "rejected: "+err.Error()); cerr != nil {
				x.log.Error("refund_after_reject_failed", zap.Uint64("order_id", rec.ID), zap.Error(cerr))
			}
			return nil
		}
		res.Trades = len(trades)

		if _, err := x.settle.DrainLocked(ctx, l); err != nil {
			// events stay queued; the next tick retries them
			x.log.Warn("drain_after_submit_failed", zap.Uint64("order_id", rec.ID), zap.Error(err))
		}
		if err := x.store.MarkLive(ctx, rec.ID); err != nil && !errors.Is(err, ledger.ErrNotPending) {
			x.withdraw(ctx, l, rec)
			return fmt.Errorf("record admission of order %d: %w", rec.ID, err)
		}
		return nil
	})
	if err != nil {
		x.metrics.OrderSubmitted(req.Ticker, "rejected")
		return SubmitResult{}, err
	}
	if rejected != nil {
		x.metrics.OrderSubmitted(req.Ticker, "rejected")
		x.log.Info("order_rejected", zap.Uint64("order_id", res.Order.ID), zap.Error(rejected))
		return SubmitResult{}, rejected
	}

	if rec, err := x.store.GetOrder(res.Order.ID); err == nil {
		res.Order = rec
	}
	x.metrics.OrderSubmitted(req.Ticker, "accepted")
	x.log.Info("order_submitted",
		zap.Uint64("order_id", res.Order.ID),
		zap.Uint64("user_id", req.UserID),
		zap.String("ticker", req.Ticker),
		zap.Stringer("side", req.Side),
		zap.Int64("qty", req.Quantity),
		zap.Int64("price", req.Price),
		zap.Int("trades", res.Trades),
		zap.String("status", string(res.Order.Status)),
	)
	return res, nil
}

// withdraw takes an order whose admission could not be recorded back off the book.
// Trades it already made stand; the unfilled remainder is refunded. If the ledger is still
// failing the record stays PENDING and not live, which Restore refunds.
func (x *Exchange) withdraw(ctx context.Context, l *matching.Locked, rec ledger.OrderRecord) {
	l.Cancel(rec.EngineOrderID)
	if _, err := x.settle.DrainLocked(ctx, l); err != nil {
		x.log.Error("withdraw_drain_failed", zap.Uint64("order_id", rec.ID), zap.Error(err))
		return
	}
	if _, err := x.store.CancelOrder(ctx, rec.ID, "admission not recorded"); err != nil && !errors.Is(err, ledger.ErrNotPending) {
		x.log.Error("withdraw_refund_failed", zap.Uint64("order_id", rec.ID), zap.Error(err))
		return
	}
	x.log.Warn("order_withdrawn", zap.Uint64("order_id", rec.ID), zap.String("ticker", rec.Ticker))
}

// Cancel pulls a PENDING user order off the book and refunds its remaining escrow.
// Queued fills are applied first so the refund only covers what never traded.
func (x *Exchange) Cancel(ctx context.Context, recordID uint64) (ledger.OrderRecord, error) {
	rec, err := x.store.GetOrder(recordID)
	if err != nil {
		return ledger.OrderRecord{}, err
	}
	if rec.Status != ledger.StatusPending {
		return rec, fmt.Errorf("%w: order %d is %s", ledger.ErrNotPending, rec.ID, rec.Status)
	}

	var out ledger.OrderRecord
	err = x.engine.WithTicker(rec.Ticker, func(l *matching.Locked) error {
		if _, err := x.settle.DrainLocked(ctx, l); err != nil {
			return err
		}
		if _, err := l.Cancel(rec.EngineOrderID); err != nil && rec.Live {
			// live but absent: it traded away and reconciliation owns the record now
			return fmt.Errorf("%w: order %d is no longer resting", ledger.ErrNotPending, rec.ID)
		}
		var err error
		out, err = x.store.CancelOrder(ctx, rec.ID, "user cancel")
		return err
	})
	if errors.Is(err, market.ErrUnknownTicker) {
		out, err = x.store.CancelOrder(ctx, rec.ID, "instrument delisted")
	}
	if err != nil {
		return ledger.OrderRecord{}, err
	}
	x.log.Info("order_cancelled", zap.Uint64("order_id", out.ID), zap.String("ticker", out.Ticker), zap.Int64("remaining", out.Remaining))
	return out, nil
}

// SetStatus halts or resumes trading in one instrument. A halted book keeps its resting
// orders and can still be cancelled against; new orders are rejected with ErrHalted.
func (x *Exchange) SetStatus(ticker string, status market.Status) error {
	if err := x.registry.UpdateStatus(ticker, status); err != nil {
		return err
	}
	x.log.Info("market_status_changed", zap.String("ticker", ticker), zap.Stringer("status", status))
	return nil
}

// Restore reloads persisted prices and puts PENDING orders back on their books in record
// order. Records that were never admitted before the restart are refunded.
func (x *Exchange) Restore(ctx context.Context) error {
	prices, err := x.store.LoadPrices()
	if err != nil {
		return fmt.Errorf("load prices: %w", err)
	}
	for ticker, p := range prices {
		inst, err := x.registry.Get(ticker)
		if err != nil {
			continue
		}
		inst.SetPrice(p)
		x.saved[ticker] = p
	}

	recs, err := x.store.ListPending("", 0)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	restored, refunded := 0, 0
	for _, rec := range recs {
		if !x.registry.Exists(rec.Ticker) {
			x.log.Warn("restore_unknown_ticker", zap.Uint64("order_id", rec.ID), zap.String("ticker", rec.Ticker))
			continue
		}
		if !rec.Live {
			if _, err := x.store.CancelOrder(ctx, rec.ID, "not admitted before restart"); err != nil {
				x.log.Error("restore_refund_failed", zap.Uint64("order_id", rec.ID), zap.Error(err))
				continue
			}
			refunded++
			continue
		}
		err := x.engine.WithTicker(rec.Ticker, func(l *matching.Locked) error {
			if _, err := l.Place(orderbook.Order{
				ID:         rec.EngineOrderID,
				OwnerID:    ledger.OwnerID(rec.UserID),
				Ticker:     rec.Ticker,
				Side:       rec.Side,
				Kind:       orderbook.Limit,
				Quantity:   rec.Remaining,
				LimitPrice: rec.Price,
				Ref:        rec.ID,
			}); err != nil {
				return err
			}
			_, err := x.settle.DrainLocked(ctx, l)
			return err
		})
		if err != nil {
			x.log.Error("restore_order_failed", zap.Uint64("order_id", rec.ID), zap.Error(err))
			continue
		}
		restored++
	}
	x.log.Info("exchange_restored", zap.Int("prices", len(prices)), zap.Int("orders", restored), zap.Int("refunded", refunded))
	return nil
}

// Run drives the market loop until ctx is cancelled. A failing tick is logged and the
// loop carries on.
func (x *Exchange) Run(ctx context.Context) error {
	ticker := time.NewTicker(x.cfg.TickInterval)
	defer ticker.Stop()

	x.log.Info("market_loop_started", zap.Duration("interval", x.cfg.TickInterval), zap.Bool("noise", x.noise != nil))
	for {
		select {
		case <-ctx.Done():
			x.log.Info("market_loop_stopped")
			return nil
		case <-ticker.C:
			if err := x.Tick(ctx); err != nil {
				x.log.Error("tick_failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one iteration of the market loop: bot orders, history sample, reconciliation,
// price persistence and quote fan-out.
func (x *Exchange) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { x.metrics.ObserveTick(time.Since(start)) }()

	trades := 0
	if x.noise != nil {
		trades = x.noise.Tick()
	}
	x.quotes.Sample()

	res, err := x.settle.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if err := x.persistPrices(ctx); err != nil {
		return fmt.Errorf("persist prices: %w", err)
	}
	x.publish()

	x.log.Debug("tick",
		zap.Int("noise_trades", trades),
		zap.Int("applied", res.Applied),
		zap.Int("settled", res.Settled),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (x *Exchange) persistPrices(ctx context.Context) error {
	changed := make(map[string]int64)
	for _, inst := range x.registry.List() {
		p := inst.CurrentPrice()
		if x.saved[inst.Ticker] != p {
			changed[inst.Ticker] = p
		}
	}
	if len(changed) == 0 {
		return nil
	}
	if err := x.store.SavePrices(ctx, changed); err != nil {
		return err
	}
	for t, p := range changed {
		x.saved[t] = p
	}
	return nil
}

func (x *Exchange) publish() {
	if x.sink == nil {
		return
	}
	for _, ticker := range x.registry.Tickers() {
		md, err := x.quotes.GetMarketData(ticker)
		if err != nil {
			continue
		}
		x.sink.PublishQuote(md)
	}
}
