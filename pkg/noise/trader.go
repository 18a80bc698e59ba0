package noise

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

const OwnerID = "Bot_Noise"

type Config struct {
	Spread   int64 // max absolute offset from the current price
	MaxQty   int64
	MinPrice int64
}

func DefaultConfig() Config {
	return Config{Spread: 500, MaxQty: 5, MinPrice: 10}
}

// Generator draws random LIMIT orders around a reference price
type Generator struct {
	cfg Config
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator; seed 0 seeds from the clock
func NewGenerator(cfg Config, seed int64) *Generator {
	if cfg.MaxQty < 1 {
		cfg.MaxQty = 1
	}
	if cfg.MinPrice < 1 {
		cfg.MinPrice = 1
	}
	if cfg.Spread < 0 {
		cfg.Spread = 0
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Order draws a uniform side, a price uniform in [ref-Spread, ref+Spread] floored at MinPrice,
// and a quantity uniform in [1, MaxQty].
func (g *Generator) Order(ticker string, ref int64) orderbook.Order {
	g.mu.Lock()
	defer g.mu.Unlock()

	side := orderbook.Buy
	if g.rng.Intn(2) == 1 {
		side = orderbook.Sell
	}

	price := ref + g.rng.Int63n(2*g.cfg.Spread+1) - g.cfg.Spread
	if price < g.cfg.MinPrice {
		price = g.cfg.MinPrice
	}

	return orderbook.Order{
		OwnerID:    OwnerID,
		Ticker:     ticker,
		Side:       side,
		Kind:       orderbook.Limit,
		Quantity:   g.rng.Int63n(g.cfg.MaxQty) + 1,
		LimitPrice: price,
	}
}

// Trader submits one synthetic order per instrument per tick through the normal engine path
type Trader struct {
	log      *zap.Logger
	registry *market.Registry
	engine   *matching.Engine
	gen      *Generator
}

func NewTrader(log *zap.Logger, registry *market.Registry, engine *matching.Engine, gen *Generator) *Trader {
	return &Trader{log: log.Named("noise"), registry: registry, engine: engine, gen: gen}
}

// Tick places one order for every active instrument and returns the number of trades.
// Rejections are logged; one instrument failing does not stop the others.
func (t *Trader) Tick() int {
	trades := 0
	for _, inst := range t.registry.List() {
		if !inst.IsActive() {
			continue
		}
		o := t.gen.Order(inst.Ticker, inst.CurrentPrice())
		fills, err := t.engine.PlaceOrder(o)
		if err != nil {
			t.log.Warn("noise_order_rejected", zap.String("ticker", inst.Ticker), zap.Error(err))
			continue
		}
		trades += len(fills)
	}
	return trades
}
