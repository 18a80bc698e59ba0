package quote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
	"github.com/uhyunpark/stocksim/pkg/util"
)

func TestRingKeepsLastN(t *testing.T) {
	r := newRing(3)
	assert.Empty(t, r.snapshot())
	for i := int64(1); i <= 5; i++ {
		r.add(Sample{Price: i})
	}
	got := r.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].Price)
	assert.Equal(t, int64(5), got[2].Price)
}

func setup(t *testing.T) (*Publisher, *matching.Engine, *util.ManualClock) {
	t.Helper()
	reg := market.NewRegistry()
	inst, err := market.NewInstrument("A", "Alpha", "Tech", 100, 10)
	require.NoError(t, err)
	require.NoError(t, reg.Register(inst))
	engine := matching.NewEngine(zap.NewNop(), reg, matching.Options{})
	clock := util.NewManualClock(time.Unix(1700000000, 0))
	return NewPublisher(reg, engine, 30, clock), engine, clock
}

func TestGetMarketData(t *testing.T) {
	p, engine, clock := setup(t)

	for i := 0; i < 7; i++ {
		_, err := engine.PlaceOrder(orderbook.Order{OwnerID: "Bot_Noise", Ticker: "A", Side: orderbook.Buy, Kind: orderbook.Limit, Quantity: 1, LimitPrice: int64(90 + i)})
		require.NoError(t, err)
	}
	_, err := engine.PlaceOrder(orderbook.Order{OwnerID: "User_1", Ticker: "A", Side: orderbook.Sell, Kind: orderbook.Limit, Quantity: 2, LimitPrice: 110})
	require.NoError(t, err)

	p.Sample()
	clock.Advance(time.Second)
	_, err = engine.PlaceOrder(orderbook.Order{OwnerID: "User_2", Ticker: "A", Side: orderbook.Buy, Kind: orderbook.Limit, Quantity: 1, LimitPrice: 110})
	require.NoError(t, err)
	p.Sample()

	md, err := p.GetMarketData("A")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", md.Name)
	assert.Equal(t, int64(110), md.Price)
	require.Len(t, md.TopBids, 5)
	assert.Equal(t, int64(96), md.TopBids[0].Price)
	require.Len(t, md.TopAsks, 1)
	assert.Equal(t, int64(1), md.TopAsks[0].Quantity)

	require.Len(t, md.History, 2)
	assert.Equal(t, int64(100), md.History[0].Price)
	assert.Equal(t, int64(110), md.History[1].Price)
	assert.True(t, md.History[1].Time.After(md.History[0].Time))

	_, err = p.GetMarketData("NOPE")
	assert.ErrorIs(t, err, market.ErrUnknownTicker)
}

func TestMarketsChange(t *testing.T) {
	p, engine, _ := setup(t)
	p.Sample()
	_, _ = engine.PlaceOrder(orderbook.Order{OwnerID: "X", Ticker: "A", Side: orderbook.Sell, Kind: orderbook.Limit, Quantity: 1, LimitPrice: 105})
	_, _ = engine.PlaceOrder(orderbook.Order{OwnerID: "Y", Ticker: "A", Side: orderbook.Buy, Kind: orderbook.Limit, Quantity: 1, LimitPrice: 105})

	ms := p.Markets()
	require.Len(t, ms, 1)
	assert.Equal(t, int64(105), ms[0].Price)
	assert.Equal(t, int64(5), ms[0].Change)
}
