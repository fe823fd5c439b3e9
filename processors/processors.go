// Package processors holds the strategies shipped with the trader.
package processors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/stocktrader/engine"
)

// Register adds every shipped processor to r.
func Register(r *engine.Registry) error {
	for name, f := range map[string]engine.Factory{
		"noop":      NewNoop,
		"overnight": NewOvernight,
		"zscore":    NewZScore,
	} {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// Default is a registry holding the shipped processors.
func Default() *engine.Registry {
	r := engine.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

var (
	_ engine.Acker      = (*Overnight)(nil)
	_ engine.CloseAcker = (*Overnight)(nil)
	_ engine.Acker      = (*ZScore)(nil)
	_ engine.CloseAcker = (*ZScore)(nil)
)

// universe is a fixed symbol list read from the "symbols" param.
type universe []string

func symbolsParam(cfg engine.ProcessorConfig) (universe, error) {
	syms := cfg.Strings("symbols")
	if len(syms) == 0 {
		return nil, fmt.Errorf("%s: symbols is required", cfg.Name)
	}
	out := append(universe(nil), syms...)
	sort.Strings(out)
	return out, nil
}

func (u universe) StockUniverse(context.Context, time.Time) ([]string, error) {
	return append([]string(nil), u...), nil
}

func (u universe) contains(sym string) bool {
	i := sort.SearchStrings(u, sym)
	return i < len(u) && u[i] == sym
}

// book tracks which side a processor holds per symbol. Opens become
// holdings only once acknowledged, and holdings go away only when the
// engine reports the position closed, so unconfirmed trades are retried.
type book struct {
	mu      sync.Mutex
	held    map[string]bool // symbol -> long
	pending map[string]bool
}

func newBook() *book {
	return &book{held: map[string]bool{}, pending: map[string]bool{}}
}

func (b *book) reset(held []engine.Position, u universe) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.held = map[string]bool{}
	b.pending = map[string]bool{}
	for _, p := range held {
		if u.contains(p.Symbol) && p.Qty != 0 {
			b.held[p.Symbol] = p.IsLong()
		}
	}
}

func (b *book) side(sym string) (long, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	long, ok = b.held[sym]
	return
}

func (b *book) opening(sym string, long bool) {
	b.mu.Lock()
	b.pending[sym] = long
	b.mu.Unlock()
}

func (b *book) Ack(sym string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if long, ok := b.pending[sym]; ok {
		b.held[sym] = long
		delete(b.pending, sym)
	}
}

func (b *book) AckClose(sym string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.held, sym)
	delete(b.pending, sym)
}

func closeAction(sym string, long bool) *engine.ProcessorAction {
	t := engine.BuyToClose
	if long {
		t = engine.SellToClose
	}
	return &engine.ProcessorAction{Symbol: sym, Type: t, Percent: 1}
}
