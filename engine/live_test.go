package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stocktrader/broker"
	"github.com/rustyeddy/stocktrader/broker/paper"
	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/internal/retry"
	"github.com/rustyeddy/stocktrader/journal"
	"github.com/rustyeddy/stocktrader/market"
)

func newLive(now time.Time, cash float64, procs ...Processor) (*Live, *paper.Broker, *fakeClock, *memStore) {
	clock := &fakeClock{now: now}
	pb := paper.New(cash, clock.Now)
	store := &memStore{}

	opts := DefaultLiveOptions()
	opts.Retry = retry.Policy{Attempts: 1}

	l := &Live{
		Broker: pb,
		Provider: &memProvider{
			intraday: map[string]market.Series{"AAA": dayBars(tuesday, 10)},
			daily:    map[string]market.Series{"AAA": dailyHistory(tuesday.Day, 30, 10)},
		},
		Processors: procs,
		Store:      store,
		Clock:      clock,
		Options:    opts,
		Logger:     logger.Discard(),
	}
	return l, pb, clock, store
}

func TestLiveCheckpointIsIdempotent(t *testing.T) {
	t.Parallel()

	var seen float64
	proc := &fakeProcessor{
		name: "gap", freq: CloseToOpen, universe: []string{"AAA"},
		decide: func(c *Context) (*ProcessorAction, error) {
			seen = c.CurrentPrice
			return action("AAA", BuyToOpen, 0.5), nil
		},
	}
	l, pb, _, store := newLive(nyTime(2024, time.January, 2, 9, 29, 51), 10000, proc)
	l.Trades = fixedTrades{"AAA": 10.5}
	pb.SetPrice("AAA", 10)

	ctx := context.Background()
	require.NoError(t, l.Prepare(ctx))
	assert.Equal(t, tuesday.Open, l.Session().Open)
	assert.Equal(t, 1, proc.setups)

	assert.True(t, l.RunCheckpoint(ctx, tuesday.Open))
	assert.False(t, l.RunCheckpoint(ctx, tuesday.Open))
	assert.Len(t, proc.calls, 1)
	assert.Equal(t, 10.5, seen, "last trade overrides the latest bar")
	assert.Equal(t, []string{"AAA"}, proc.acks)

	pos, ok := l.Ledger.Position("AAA")
	require.True(t, ok)
	assert.InDelta(t, 500, pos.Qty, 1e-9)
	assert.Equal(t, 10.0, pos.EntryPrice)
	assert.Equal(t, 10.5, pos.RefPrice)

	held, err := pb.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, held, 1)

	assert.True(t, l.RunCheckpoint(ctx, tuesday.Open.Add(30*time.Minute)))
	assert.Len(t, proc.calls, 1, "close-to-open processors run only at the open")

	l.Finish(ctx)
	assert.Equal(t, 1, proc.teardowns)
	_, _, equity := store.snapshot()
	assert.Len(t, equity, 1)
}

func TestLiveSyncKeepsRefPrice(t *testing.T) {
	t.Parallel()

	gap := &fakeProcessor{
		name: "gap", freq: CloseToOpen, universe: []string{"AAA"},
		decide: func(*Context) (*ProcessorAction, error) { return action("AAA", BuyToOpen, 0.5), nil },
	}
	watcher := &fakeProcessor{name: "watcher", freq: FiveMin, universe: []string{"AAA"}}
	l, pb, _, _ := newLive(nyTime(2024, time.January, 2, 9, 29, 51), 10000, gap, watcher)
	l.Trades = fixedTrades{"AAA": 10.5}
	pb.SetPrice("AAA", 10)

	ctx := context.Background()
	require.NoError(t, l.Prepare(ctx))
	require.True(t, l.RunCheckpoint(ctx, tuesday.Open))
	pos, ok := l.Ledger.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, 10.5, pos.RefPrice)

	require.True(t, l.RunCheckpoint(ctx, tuesday.Open.Add(5*time.Minute)))
	assert.Len(t, watcher.calls, 2)
	pos, ok = l.Ledger.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.EntryPrice, "entry price follows the broker")
	assert.Equal(t, 10.5, pos.RefPrice, "reference price survives the broker sync")
}

func TestLiveRunToClose(t *testing.T) {
	t.Parallel()

	watcher := &fakeProcessor{name: "watcher", freq: FiveMin, universe: []string{"AAA"}}
	closer := &fakeProcessor{
		name: "closer", freq: CloseToClose, universe: []string{"AAA"},
		decide: func(*Context) (*ProcessorAction, error) { return action("AAA", SellToClose, 1), nil },
	}
	l, pb, clock, store := newLive(nyTime(2024, time.January, 2, 15, 59, 30), 1000, watcher, closer)
	l.Trades = fixedTrades{"AAA": 11}
	pb.Seed(broker.Position{Symbol: "AAA", Qty: 100, AvgEntryPrice: 10, CurrentPrice: 10})
	pb.SetPrice("AAA", 11)

	require.NoError(t, l.Run(context.Background()))
	assert.True(t, clock.Now().After(tuesday.Close))

	assert.Len(t, watcher.calls, 1)
	require.Len(t, closer.calls, 1)
	assert.Equal(t, tuesday.Close, closer.calls[0])
	require.Len(t, closer.held, 1)
	assert.Equal(t, 1, closer.teardowns)

	txns, aggregated, equity := store.snapshot()
	require.Len(t, txns, 1)
	assert.InDelta(t, 100, txns[0].GL, 1e-9)
	require.NotNil(t, txns[0].SlippagePct)
	assert.InDelta(t, 0, *txns[0].SlippagePct, 1e-9)
	assert.Equal(t, []time.Time{tuesday.Day}, aggregated)
	require.Len(t, equity, 1)
	assert.InDelta(t, 2100, equity[0].Cash, 1e-9)
	assert.Empty(t, l.Ledger.Positions())
}

func TestLivePrecheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		now  time.Time
		want error
	}{
		{"weekend", nyTime(2024, time.January, 6, 10, 0, 0), ErrMarketClosed},
		{"after the close", nyTime(2024, time.January, 2, 17, 0, 0), ErrMarketClosed},
		{"hours before the open", nyTime(2024, time.January, 2, 7, 0, 0), ErrTooEarly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{name: "p", universe: []string{"AAA"}}
			l, _, _, _ := newLive(tt.now, 1000, p)
			err := l.Prepare(context.Background())
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, p.setups)
		})
	}

	p := &fakeProcessor{name: "p", universe: []string{"AAA"}}
	l, _, _, _ := newLive(nyTime(2024, time.January, 2, 8, 45, 0), 1000, p)
	assert.NoError(t, l.Prepare(context.Background()), "within an hour of the open")
}

func TestLiveValidation(t *testing.T) {
	t.Parallel()

	err := (&Live{}).Prepare(context.Background())
	assert.ErrorContains(t, err, "Broker is required")

	l, _, _, _ := newLive(nyTime(2024, time.January, 2, 10, 0, 0), 1000,
		&fakeProcessor{name: "p"}, &fakeProcessor{name: "p"})
	err = l.Prepare(context.Background())
	assert.ErrorContains(t, err, `live: duplicate processor name "p"`)

	assert.False(t, (&Live{log: logger.Discard()}).RunCheckpoint(context.Background(), tuesday.Open))
}

func TestLiveUploadsSessionLog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "live.log")
	require.NoError(t, os.WriteFile(path, []byte("session log\n"), 0o644))

	l, _, _, store := newLive(nyTime(2024, time.January, 2, 10, 0, 0), 1000, &fakeProcessor{name: "p"})
	l.Options.LogPath = path
	require.NoError(t, l.Prepare(context.Background()))
	l.Finish(context.Background())

	assert.Equal(t, "session log\n", store.logs[journal.DateKey(tuesday.Day)+"/live"])
}

func TestSessionFromClock(t *testing.T) {
	t.Parallel()

	now := nyTime(2024, time.January, 2, 11, 0, 0)
	early := nyTime(2024, time.January, 2, 13, 0, 0)
	s, err := sessionFromClock(now, broker.Clock{IsOpen: true, NextClose: early})
	require.NoError(t, err)
	assert.Equal(t, early, s.Close, "early close from the broker wins")
	assert.Equal(t, tuesday.Open, s.Open)
}

func TestWithLastTrade(t *testing.T) {
	t.Parallel()

	c := tuesday.Open.Add(time.Hour)
	bars := dayBars(tuesday, 10).Before(c)

	got := withLastTrade(bars, 12, c)
	require.Len(t, got, len(bars))
	last, _ := got.Last()
	assert.Equal(t, 12.0, last.Close)
	assert.Equal(t, 12.0, last.High)
	assert.Equal(t, 10.0, last.Low)
	orig, _ := bars.Last()
	assert.Equal(t, 10.0, orig.Close, "input is not modified")

	gap := bars[:len(bars)-2]
	got = withLastTrade(gap, 12, c)
	require.Len(t, got, len(gap)+1)
	last, _ = got.Last()
	assert.Equal(t, c.Add(-CheckpointInterval), last.Time)
	assert.Zero(t, last.Volume)

	assert.Equal(t, bars, withLastTrade(bars, 0, c))
}
