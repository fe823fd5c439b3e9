package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/journal"
	"github.com/rustyeddy/stocktrader/market"
)

var wednesday = market.RegularSession(nyTime(2024, time.January, 3, 0, 0, 0))

func twoDayProvider() *memProvider {
	intraday := append(dayBars(tuesday, 10), dayBars(wednesday, 10)...)
	return &memProvider{
		intraday: map[string]market.Series{"AAA": intraday},
		daily:    map[string]market.Series{"AAA": dailyHistory(tuesday.Day, 30, 10)},
	}
}

func clockIs(t time.Time, h, m int) bool {
	n := t.In(market.NewYork)
	return n.Hour() == h && n.Minute() == m
}

func newBacktest(procs ...Processor) (*Backtest, *memStore) {
	store := &memStore{}
	return &Backtest{
		Provider:   twoDayProvider(),
		Calendar:   market.WeekdayCalendar{},
		Processors: procs,
		Store:      store,
		Options: BacktestOptions{
			Start:    tuesday.Day,
			End:      wednesday.Day,
			Cash:     10000,
			Progress: io.Discard,
		},
		Logger: logger.Discard(),
	}, store
}

func TestBacktestIntraday(t *testing.T) {
	t.Parallel()

	trader := &fakeProcessor{
		name:     "trader",
		freq:     FiveMin,
		universe: []string{"AAA"},
		decide: func(c *Context) (*ProcessorAction, error) {
			switch {
			case clockIs(c.CurrentTime, 9, 35):
				return action("AAA", BuyToOpen, 0.5), nil
			case clockIs(c.CurrentTime, 15, 0):
				return action("AAA", SellToClose, 1), nil
			}
			return nil, nil
		},
	}
	atOpen := &fakeProcessor{name: "at-open", freq: CloseToOpen, universe: []string{"AAA"}}
	atClose := &fakeProcessor{name: "at-close", freq: CloseToClose, universe: []string{"AAA", "NODATA"}}

	bt, store := newBacktest(trader, atOpen, atClose)
	sum, err := bt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Days)
	require.Len(t, sum.Transactions, 2)
	assert.Equal(t, 0, sum.Wins)
	assert.Equal(t, 2, sum.Losses)
	assert.Equal(t, 10000.0, sum.StartEquity)
	// each round trip pays the spread on exit
	assert.InDelta(t, 9995, sum.Equity[0].Equity, 1e-6)
	assert.InDelta(t, 9990.0025, sum.EndEquity, 1e-6)
	assert.InDelta(t, -5, sum.Transactions[0].GL, 1e-9)
	assert.Equal(t, "trader", sum.Transactions[0].Processor)
	assert.Equal(t, 2, trader.setups)
	assert.Equal(t, 2, trader.teardowns)
	assert.Equal(t, []string{"AAA", "AAA"}, trader.acks)

	assert.Len(t, trader.calls, 2*79, "every checkpoint has data, the open included")
	require.Len(t, atOpen.calls, 2)
	assert.Equal(t, tuesday.Open, atOpen.calls[0])
	assert.Equal(t, wednesday.Open, atOpen.calls[1])
	require.Len(t, atClose.calls, 2)
	assert.Equal(t, tuesday.Close, atClose.calls[0])

	txns, aggregated, equity := store.snapshot()
	assert.Len(t, txns, 2)
	assert.Equal(t, []time.Time{tuesday.Day, wednesday.Day}, aggregated)
	require.Len(t, equity, 2)
	assert.Equal(t, tuesday.Close, equity[0].Time)
	assert.Equal(t, 0, equity[1].Positions)

	assert.Contains(t, sum.Timings, "load")
	assert.Contains(t, sum.Timings, "process")
}

func TestBacktestCarriesPositionsOvernight(t *testing.T) {
	t.Parallel()

	buyer := &fakeProcessor{
		name: "buyer", freq: CloseToClose, universe: []string{"AAA"},
		decide: func(*Context) (*ProcessorAction, error) { return action("AAA", BuyToOpen, 1), nil },
	}
	seller := &fakeProcessor{
		name: "seller", freq: CloseToOpen, universe: []string{"AAA"},
		decide: func(*Context) (*ProcessorAction, error) { return action("AAA", SellToClose, 1), nil },
	}

	bt, store := newBacktest(buyer, seller)
	sum, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Transactions, 1)
	tx := sum.Transactions[0]
	assert.Equal(t, "seller", tx.Processor)
	assert.Equal(t, tuesday.Close, tx.EntryTime)
	assert.Equal(t, wednesday.Open, tx.ExitTime)
	assert.InDelta(t, 1000, tx.Qty, 1e-9)

	assert.Equal(t, []string{"AAA"}, seller.closeAcks)
	assert.Equal(t, []string{"AAA"}, buyer.closeAcks, "every processor hears the position is gone")

	require.Len(t, seller.held, 1, "setup sees the overnight position")
	assert.Equal(t, "AAA", seller.held[0].Symbol)

	_, _, equity := store.snapshot()
	require.Len(t, equity, 2)
	assert.InDelta(t, 10000, equity[0].Equity, 1e-6)
	assert.Equal(t, 1, equity[0].Positions)
	assert.InDelta(t, 9990, sum.EndEquity, 1e-6)
}

func TestBacktestValidation(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{name: "p"}
	tests := []struct {
		name   string
		mutate func(*Backtest)
		want   string
	}{
		{"provider", func(b *Backtest) { b.Provider = nil }, "Provider is required"},
		{"calendar", func(b *Backtest) { b.Calendar = nil }, "Calendar is required"},
		{"processors", func(b *Backtest) { b.Processors = nil }, "Processor is required"},
		{"store", func(b *Backtest) { b.Store = nil }, "Store is required"},
		{"range", func(b *Backtest) { b.Options.End = b.Options.Start.AddDate(0, 0, -1) }, "End is before Start"},
		{"cash", func(b *Backtest) { b.Options.Cash = 0 }, "Cash must be positive"},
		{"duplicate names", func(b *Backtest) { b.Processors = []Processor{p, &fakeProcessor{name: "p"}} }, `duplicate processor name "p"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bt, _ := newBacktest(p)
			tt.mutate(bt)
			_, err := bt.Run(context.Background())
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestBacktestSharesUniverseCache(t *testing.T) {
	t.Parallel()

	p := &fakeProcessor{name: "p", freq: FiveMin, universe: []string{"AAA"}}
	cache := NewUniverseCache()

	bt, _ := newBacktest(p)
	bt.UniverseCache = cache
	_, err := bt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.universeCalls, "once per day")
	assert.Equal(t, 2, cache.Len())

	again, _ := newBacktest(p)
	again.UniverseCache = cache
	_, err = again.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.universeCalls, "second run reads the cache")
}

func TestBacktestNoSessions(t *testing.T) {
	t.Parallel()

	bt, _ := newBacktest(&fakeProcessor{name: "p"})
	sat := nyTime(2024, time.January, 6, 0, 0, 0)
	bt.Options.Start, bt.Options.End = sat, sat.AddDate(0, 0, 1)
	_, err := bt.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestBacktestCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bt, _ := newBacktest(&fakeProcessor{name: "p", universe: []string{"AAA"}})
	sum, err := bt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Days)
}

func TestSummaryReport(t *testing.T) {
	t.Parallel()

	sum := Summary{
		Start:        tuesday.Day,
		End:          wednesday.Day,
		Days:         2,
		StartEquity:  100,
		EndEquity:    120,
		Wins:         3,
		Losses:       1,
		Transactions: make([]journal.Transaction, 4),
		Equity: []journal.EquitySnapshot{
			{Equity: 110}, {Equity: 99}, {Equity: 120},
		},
	}
	r := sum.Report([]string{"p"})
	assert.Equal(t, 20.0, r.NetPL)
	assert.InDelta(t, 20, r.ReturnPct, 1e-9)
	assert.Equal(t, 0.75, r.WinRate)
	assert.Equal(t, 2.0, r.TradesPerDay)
	assert.InDelta(t, 10, r.MaxDDPct, 1e-9)
	assert.Equal(t, []string{"p"}, r.Processors)
}
