package processors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stocktrader/engine"
	"github.com/rustyeddy/stocktrader/market"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, market.NewYork)

func contextWithCloses(sym string, closes ...float64) *engine.Context {
	s := make(market.Series, len(closes))
	for i, c := range closes {
		s[i] = market.Bar{Time: t0.Add(time.Duration(i-len(closes)) * 5 * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return engine.NewContext(sym, t0, engine.ModeBacktest, nil, s)
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r := Default()
	assert.Equal(t, []string{"noop", "overnight", "zscore"}, r.Names())

	p, err := r.New(engine.ProcessorConfig{Name: "noop", Params: map[string]any{"symbols": []any{"SPY", "AAPL"}}})
	require.NoError(t, err)
	assert.Equal(t, "noop", p.Name())
	syms, err := p.StockUniverse(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "SPY"}, syms)

	_, err = r.New(engine.ProcessorConfig{Name: "overnight"})
	assert.ErrorContains(t, err, "symbols is required")

	_, err = r.New(engine.ProcessorConfig{Name: "zscore", Params: map[string]any{"symbols": []string{"A"}, "period": 1}})
	assert.ErrorContains(t, err, "period must be at least 2")

	assert.Error(t, Register(r), "registering twice must fail")
}

func TestNoopNeverTrades(t *testing.T) {
	t.Parallel()

	p, err := NewNoop(engine.ProcessorConfig{Name: "noop"})
	require.NoError(t, err)
	dp := p.(engine.DataProcessor)
	pa, err := dp.ProcessData(contextWithCloses("SPY", 1, 2, 3))
	assert.NoError(t, err)
	assert.Nil(t, pa)
	assert.Equal(t, engine.FiveMin, p.TradingFrequency())
}

func TestOvernightAlternates(t *testing.T) {
	t.Parallel()

	p, err := NewOvernight(engine.ProcessorConfig{
		Name:   "overnight",
		Params: map[string]any{"symbols": []any{"SPY", "AAPL"}, "percent": 0.5},
	})
	require.NoError(t, err)
	o := p.(*Overnight)
	assert.Equal(t, engine.CloseToOpen, o.TradingFrequency())

	require.NoError(t, o.Setup([]engine.Position{
		{Symbol: "AAPL", Qty: 10, EntryPrice: 100},
		{Symbol: "MSFT", Qty: 5, EntryPrice: 300},
	}, t0))

	pa, err := o.ProcessData(contextWithCloses("AAPL", 101))
	require.NoError(t, err)
	assert.Equal(t, &engine.ProcessorAction{Symbol: "AAPL", Type: engine.SellToClose, Percent: 1}, pa)

	pa, err = o.ProcessData(contextWithCloses("SPY", 470))
	require.NoError(t, err)
	assert.Equal(t, &engine.ProcessorAction{Symbol: "SPY", Type: engine.BuyToOpen, Percent: 0.5}, pa)

	o.Ack("SPY")

	pa, _ = o.ProcessData(contextWithCloses("SPY", 471))
	assert.Equal(t, engine.SellToClose, pa.Type)
	o.AckClose("AAPL")
	pa, _ = o.ProcessData(contextWithCloses("AAPL", 102))
	assert.Equal(t, engine.BuyToOpen, pa.Type)

	pa, _ = o.ProcessData(contextWithCloses("SPY"))
	assert.Nil(t, pa, "no price, no trade")
}

func TestOvernightUnackedOpenIsRetried(t *testing.T) {
	t.Parallel()

	p, err := NewOvernight(engine.ProcessorConfig{Name: "o", Params: map[string]any{"symbols": []string{"SPY"}}})
	require.NoError(t, err)
	o := p.(*Overnight)
	require.NoError(t, o.Setup(nil, t0))

	for i := 0; i < 2; i++ {
		pa, _ := o.ProcessData(contextWithCloses("SPY", 470))
		assert.Equal(t, engine.BuyToOpen, pa.Type)
		assert.Equal(t, 1.0, pa.Percent)
	}
}

func TestOvernightUnackedCloseIsRetried(t *testing.T) {
	t.Parallel()

	p, err := NewOvernight(engine.ProcessorConfig{Name: "o", Params: map[string]any{"symbols": []string{"SPY"}}})
	require.NoError(t, err)
	o := p.(*Overnight)
	require.NoError(t, o.Setup([]engine.Position{{Symbol: "SPY", Qty: 10, EntryPrice: 470}}, t0))

	for i := 0; i < 2; i++ {
		pa, _ := o.ProcessData(contextWithCloses("SPY", 471))
		assert.Equal(t, engine.SellToClose, pa.Type, "the holding stays until the close is confirmed")
	}

	o.AckClose("SPY")
	pa, _ := o.ProcessData(contextWithCloses("SPY", 472))
	assert.Equal(t, engine.BuyToOpen, pa.Type)
}

func TestZScoreScore(t *testing.T) {
	t.Parallel()

	z := &ZScore{period: 5}
	score, ok := z.Score([]float64{1, 2, 10, 10, 10, 10, 5})
	require.True(t, ok)
	assert.InDelta(t, -2, score, 1e-9)

	_, ok = z.Score([]float64{10, 10, 10, 10})
	assert.False(t, ok, "not enough closes")
	_, ok = z.Score([]float64{10, 10, 10, 10, 10})
	assert.False(t, ok, "flat closes")
}

func TestZScoreLongRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := NewZScore(engine.ProcessorConfig{
		Name:   "z",
		Params: map[string]any{"symbols": []any{"AAPL"}, "period": 5, "threshold": 1.5, "percent": 0.2},
	})
	require.NoError(t, err)
	z := p.(*ZScore)
	require.NoError(t, z.Setup(nil, t0))

	pa, err := z.ProcessData(contextWithCloses("AAPL", 10, 10, 10, 10, 5))
	require.NoError(t, err)
	assert.Equal(t, &engine.ProcessorAction{Symbol: "AAPL", Type: engine.BuyToOpen, Percent: 0.2}, pa)

	z.Ack("AAPL")

	pa, _ = z.ProcessData(contextWithCloses("AAPL", 10, 10, 10, 5, 6))
	assert.Nil(t, pa, "still below the mean")

	pa, _ = z.ProcessData(contextWithCloses("AAPL", 5, 5, 5, 5, 10))
	assert.Equal(t, &engine.ProcessorAction{Symbol: "AAPL", Type: engine.SellToClose, Percent: 1}, pa)
	pa, _ = z.ProcessData(contextWithCloses("AAPL", 5, 5, 5, 5, 10))
	assert.Equal(t, engine.SellToClose, pa.Type, "unconfirmed close is asked again")

	z.AckClose("AAPL")
	pa, _ = z.ProcessData(contextWithCloses("AAPL", 6, 6, 6, 6, 6))
	assert.Nil(t, pa, "flat after closing")
}

func TestZScoreShortFromHeldPosition(t *testing.T) {
	t.Parallel()

	p, err := NewZScore(engine.ProcessorConfig{Name: "z", Params: map[string]any{"symbols": []any{"AAPL"}, "period": 5}})
	require.NoError(t, err)
	z := p.(*ZScore)
	require.NoError(t, z.Setup([]engine.Position{{Symbol: "AAPL", Qty: -10, EntryPrice: 15}}, t0))

	pa, _ := z.ProcessData(contextWithCloses("AAPL", 15, 15, 15, 15, 10))
	assert.Equal(t, &engine.ProcessorAction{Symbol: "AAPL", Type: engine.BuyToClose, Percent: 1}, pa)
	z.AckClose("AAPL")

	pa, _ = z.ProcessData(contextWithCloses("AAPL", 10, 10, 10, 10, 20))
	require.NotNil(t, pa)
	assert.Equal(t, engine.SellToOpen, pa.Type)
	assert.Equal(t, 0.1, pa.Percent)
}
