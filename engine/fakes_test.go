package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/stocktrader/journal"
	"github.com/rustyeddy/stocktrader/market"
)

func nyTime(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, market.NewYork)
}

// tuesday is a regular session used across tests.
var tuesday = market.RegularSession(nyTime(2024, time.January, 2, 0, 0, 0))

func flatBars(start, end time.Time, step time.Duration, price float64) market.Series {
	var out market.Series
	for t := start; t.Before(end); t = t.Add(step) {
		out = append(out, market.Bar{Time: t, Open: price, High: price, Low: price, Close: price, Volume: 100})
	}
	return out
}

// dayBars is 5 minute bars from 09:00 through 15:55 at a flat price.
func dayBars(s market.Session, price float64) market.Series {
	return flatBars(s.Day.Add(9*time.Hour), s.Close, market.FiveMinutes.Duration(), price)
}

func dailyHistory(before time.Time, n int, price float64) market.Series {
	var out market.Series
	for i := n; i > 0; i-- {
		d := market.Date(before).AddDate(0, 0, -i)
		out = append(out, market.Bar{Time: d, Open: price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 1e6})
	}
	return out
}

type fakeProcessor struct {
	name     string
	freq     TradingFrequency
	universe []string
	decide   func(c *Context) (*ProcessorAction, error)

	panicUniverse bool
	universeCalls int
	calls         []time.Time
	setups        int
	teardowns     int
	held          []Position
	acks          []string
	closeAcks     []string
}

func (p *fakeProcessor) Name() string                       { return p.name }
func (p *fakeProcessor) TradingFrequency() TradingFrequency { return p.freq }

func (p *fakeProcessor) StockUniverse(context.Context, time.Time) ([]string, error) {
	p.universeCalls++
	if p.panicUniverse {
		panic("universe exploded")
	}
	return p.universe, nil
}

func (p *fakeProcessor) Setup(held []Position, _ time.Time) error {
	p.setups++
	p.held = held
	return nil
}

func (p *fakeProcessor) Teardown() error {
	p.teardowns++
	return nil
}

func (p *fakeProcessor) ProcessData(c *Context) (*ProcessorAction, error) {
	p.calls = append(p.calls, c.CurrentTime)
	if p.decide == nil {
		return nil, nil
	}
	return p.decide(c)
}

func (p *fakeProcessor) Ack(symbol string) { p.acks = append(p.acks, symbol) }

func (p *fakeProcessor) AckClose(symbol string) { p.closeAcks = append(p.closeAcks, symbol) }

type batchProcessor struct {
	*fakeProcessor
	seen [][]string
	out  []ProcessorAction
}

func (p *batchProcessor) ProcessAllData(contexts []*Context) ([]ProcessorAction, error) {
	var syms []string
	for _, c := range contexts {
		syms = append(syms, c.Symbol)
	}
	p.seen = append(p.seen, syms)
	return p.out, nil
}

func action(sym string, typ ActionType, pct float64) *ProcessorAction {
	return &ProcessorAction{Symbol: sym, Type: typ, Percent: pct}
}

var _ market.Provider = (*memProvider)(nil)

type memProvider struct {
	mu       sync.Mutex
	intraday map[string]market.Series
	daily    map[string]market.Series
	fail     map[string]bool
	calls    int
}

func (p *memProvider) Daily(_ context.Context, sym string, day time.Time, _ market.Interval) (market.Series, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail[sym] {
		return nil, fmt.Errorf("no route to %s", sym)
	}
	d := market.Date(day)
	return p.intraday[sym].Between(d, d.AddDate(0, 0, 1)), nil
}

func (p *memProvider) Range(_ context.Context, sym string, start, end time.Time, interval market.Interval) (market.Series, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail[sym] {
		return nil, fmt.Errorf("no route to %s", sym)
	}
	if interval == market.FiveMinutes {
		return p.intraday[sym].Between(start, end), nil
	}
	return p.daily[sym].Between(start, end), nil
}

type fixedTrades map[string]float64

func (f fixedTrades) LastTrades(_ context.Context, symbols []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, s := range symbols {
		if p, ok := f[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

// fakeClock advances only when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type memStore struct {
	mu           sync.Mutex
	transactions []journal.Transaction
	aggregated   []time.Time
	equity       []journal.EquitySnapshot
	logs         map[string]string
}

func (s *memStore) InsertTransaction(_ context.Context, t journal.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, t)
	return nil
}

func (s *memStore) UpdateAggregation(_ context.Context, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregated = append(s.aggregated, day)
	return nil
}

func (s *memStore) RecordEquity(_ context.Context, e journal.EquitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = append(s.equity, e)
	return nil
}

func (s *memStore) WriteLog(_ context.Context, day time.Time, logger, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logs == nil {
		s.logs = map[string]string{}
	}
	s.logs[journal.DateKey(day)+"/"+logger] = content
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) snapshot() ([]journal.Transaction, []time.Time, []journal.EquitySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]journal.Transaction(nil), s.transactions...),
		append([]time.Time(nil), s.aggregated...),
		append([]journal.EquitySnapshot(nil), s.equity...)
}
