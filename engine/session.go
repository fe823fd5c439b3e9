package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/stocktrader/journal"
	"github.com/rustyeddy/stocktrader/market"
)

var (
	ErrMarketClosed = errors.New("market is closed today")
	ErrTooEarly     = errors.New("too early before market open")
	ErrNoSession    = errors.New("no trading sessions in range")
)

// setupAll calls Setup on every processor. Failures are logged.
func setupAll(log *slog.Logger, procs []Processor, held []Position, now time.Time) {
	for _, p := range procs {
		if err := safeCall(func() error { return p.Setup(held, now) }); err != nil {
			log.Error("processor setup", "processor", p.Name(), "err", err)
		}
	}
}

// teardownAll calls Teardown on every processor. Failures are logged.
func teardownAll(log *slog.Logger, procs []Processor) {
	for _, p := range procs {
		if err := safeCall(p.Teardown); err != nil {
			log.Error("processor teardown", "processor", p.Name(), "err", err)
		}
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// ackOpened tells processors which of their opens executed.
func ackOpened(procs []Processor, opened []Action) {
	if len(opened) == 0 {
		return
	}
	by := make(map[string]Processor, len(procs))
	for _, p := range procs {
		by[p.Name()] = p
	}
	for _, a := range opened {
		if ack, ok := by[a.Processor].(Acker); ok {
			_ = safeCall(func() error { ack.Ack(a.Symbol); return nil })
		}
	}
}

// uniqueNames rejects processors sharing a name, since universes and
// acks are keyed by it.
func uniqueNames(procs []Processor) error {
	seen := make(map[string]bool, len(procs))
	for _, p := range procs {
		if seen[p.Name()] {
			return fmt.Errorf("duplicate processor name %q", p.Name())
		}
		seen[p.Name()] = true
	}
	return nil
}

// ackClosed tells processors which symbols the ledger no longer holds
// after a close.
func ackClosed(procs []Processor, txns []journal.Transaction, l *Ledger) {
	seen := map[string]bool{}
	for _, t := range txns {
		if seen[t.Symbol] {
			continue
		}
		seen[t.Symbol] = true
		if _, held := l.Position(t.Symbol); held {
			continue
		}
		for _, p := range procs {
			if ack, ok := p.(CloseAcker); ok {
				_ = safeCall(func() error { ack.AckClose(t.Symbol); return nil })
			}
		}
	}
}

// activeUniverses keeps the universes of the active processors.
func activeUniverses(active []Processor, universes map[string][]string) map[string][]string {
	out := make(map[string][]string, len(active))
	for _, p := range active {
		out[p.Name()] = universes[p.Name()]
	}
	return out
}

// lastPrices reads the last close before t for each symbol.
func lastPrices(b *Builder, symbols []string, t time.Time) map[string]float64 {
	out := map[string]float64{}
	for _, s := range symbols {
		if last, ok := b.Intraday(s).Before(t).Last(); ok {
			out[s] = last.Close
		}
	}
	return out
}

func contextPrices(contexts map[string]*Context) map[string]float64 {
	out := make(map[string]float64, len(contexts))
	for s, c := range contexts {
		out[s] = c.CurrentPrice
	}
	return out
}

func heldSymbols(positions []Position) []string {
	out := make([]string, len(positions))
	for i, p := range positions {
		out[i] = p.Symbol
	}
	return out
}

// withLastTrade folds a last-trade price into the bars before checkpoint
// c. If the bar for the bucket before c is missing, a zero-volume bar at
// the trade price stands in for it.
func withLastTrade(s market.Series, price float64, c time.Time) market.Series {
	if price <= 0 {
		return s
	}
	want := c.Add(-CheckpointInterval)
	out := s.Clone()
	if last, ok := out.Last(); ok && last.Time.Equal(want) {
		b := &out[len(out)-1]
		b.Close = price
		b.High = max(b.High, price)
		b.Low = min(b.Low, price)
		return out
	}
	return append(out, market.Bar{Time: want, Open: price, High: price, Low: price, Close: price})
}
