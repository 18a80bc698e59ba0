package quote

import (
	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/util"
)

const DefaultDepth = 5

type Level struct {
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	Owner    string `json:"owner"`
}

type MarketData struct {
	Ticker  string   `json:"ticker"`
	Name    string   `json:"name"`
	Sector  string   `json:"sector"`
	Price   int64    `json:"price"`
	History []Sample `json:"history"`
	TopBids []Level  `json:"topBids"`
	TopAsks []Level  `json:"topAsks"`
}

// Publisher is a read-only projection of the registry and books plus a bounded price history.
// Safe for concurrent use.
type Publisher struct {
	registry *market.Registry
	engine   *matching.Engine
	clock    util.Clock
	depth    int
	history  map[string]*ring // fixed at construction
}

func NewPublisher(registry *market.Registry, engine *matching.Engine, historySize int, clock util.Clock) *Publisher {
	if clock == nil {
		clock = util.RealClock{}
	}
	history := make(map[string]*ring, registry.Count())
	for _, inst := range registry.List() {
		history[inst.Ticker] = newRing(historySize)
	}
	return &Publisher{registry: registry, engine: engine, clock: clock, depth: DefaultDepth, history: history}
}

// Sample records the current price of every instrument
func (p *Publisher) Sample() {
	now := p.clock.Now()
	for _, inst := range p.registry.List() {
		if r, ok := p.history[inst.Ticker]; ok {
			r.add(Sample{Time: now, Price: inst.CurrentPrice()})
		}
	}
}

// GetMarketData returns price, history and the top orders of each side for ticker
func (p *Publisher) GetMarketData(ticker string) (MarketData, error) {
	inst, err := p.registry.Get(ticker)
	if err != nil {
		return MarketData{}, err
	}
	snap, err := p.engine.Snapshot(ticker, p.depth)
	if err != nil {
		return MarketData{}, err
	}

	md := MarketData{
		Ticker:  inst.Ticker,
		Name:    inst.DisplayName,
		Sector:  inst.Sector,
		Price:   snap.Price,
		History: []Sample{},
		TopBids: make([]Level, 0, len(snap.Bids)),
		TopAsks: make([]Level, 0, len(snap.Asks)),
	}
	if r, ok := p.history[ticker]; ok {
		md.History = r.snapshot()
	}
	for _, o := range snap.Bids {
		md.TopBids = append(md.TopBids, Level{Price: o.LimitPrice, Quantity: o.Quantity, Owner: o.OwnerID})
	}
	for _, o := range snap.Asks {
		md.TopAsks = append(md.TopAsks, Level{Price: o.LimitPrice, Quantity: o.Quantity, Owner: o.OwnerID})
	}
	return md, nil
}

// Summary is one row of the market list
type Summary struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	Sector      string `json:"sector"`
	Price       int64  `json:"price"`
	Status      string `json:"status"`
	Change      int64  `json:"change"` // against the oldest retained sample
	TotalShares int64  `json:"totalShares"`
}

// Markets lists every instrument with its current price
func (p *Publisher) Markets() []Summary {
	insts := p.registry.List()
	out := make([]Summary, 0, len(insts))
	for _, inst := range insts {
		s := Summary{
			Ticker:      inst.Ticker,
			Name:        inst.DisplayName,
			Sector:      inst.Sector,
			Price:       inst.CurrentPrice(),
			Status:      inst.Status().String(),
			TotalShares: inst.TotalShares,
		}
		if r, ok := p.history[inst.Ticker]; ok {
			if h := r.snapshot(); len(h) > 0 {
				s.Change = s.Price - h[0].Price
			}
		}
		out = append(out, s)
	}
	return out
}
