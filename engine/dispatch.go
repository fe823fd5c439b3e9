package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// ActiveProcessors returns the processors whose frequency is in set.
func ActiveProcessors(procs []Processor, set FrequencySet) []Processor {
	var out []Processor
	for _, p := range procs {
		if set.Has(p.TradingFrequency()) {
			out = append(out, p)
		}
	}
	return out
}

// Universes asks every processor for its symbols at viewTime. A failing
// processor gets an empty universe.
func Universes(ctx context.Context, log *slog.Logger, procs []Processor, viewTime time.Time) map[string][]string {
	return (*UniverseCache)(nil).Universes(ctx, log, procs, viewTime)
}

type universeKey struct {
	processor string
	at        int64
}

// UniverseCache remembers each processor's universe per view time for
// the life of a run. A nil cache asks every time. Failures are not
// remembered.
type UniverseCache struct {
	mu      sync.Mutex
	entries map[universeKey][]string
}

func NewUniverseCache() *UniverseCache {
	return &UniverseCache{entries: map[universeKey][]string{}}
}

// Universes is the cached form of the package level Universes.
func (c *UniverseCache) Universes(ctx context.Context, log *slog.Logger, procs []Processor, viewTime time.Time) map[string][]string {
	out := make(map[string][]string, len(procs))
	for _, p := range procs {
		key := universeKey{processor: p.Name(), at: viewTime.UnixNano()}
		if syms, ok := c.get(key); ok {
			out[p.Name()] = syms
			continue
		}
		syms, err := safeUniverse(ctx, p, viewTime)
		if err != nil {
			log.Error("stock universe", "processor", p.Name(), "err", err)
			continue
		}
		c.put(key, syms)
		out[p.Name()] = syms
	}
	return out
}

// Len is the number of remembered universes.
func (c *UniverseCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *UniverseCache) get(k universeKey) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	syms, ok := c.entries[k]
	return syms, ok
}

func (c *UniverseCache) put(k universeKey, syms []string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[universeKey][]string{}
	}
	c.entries[k] = syms
}

func safeUniverse(ctx context.Context, p Processor, viewTime time.Time) (syms []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.StockUniverse(ctx, viewTime)
}

// Union is the sorted set of symbols across universes.
func Union(universes map[string][]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, syms := range universes {
		for _, s := range syms {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Dispatch runs each processor over the contexts of its own universe and
// returns the proposed actions tagged with price and processor name.
// A processor that errors or panics contributes nothing.
func Dispatch(log *slog.Logger, procs []Processor, universes map[string][]string, contexts map[string]*Context) []Action {
	var out []Action
	for _, p := range procs {
		mine := make([]*Context, 0, len(universes[p.Name()]))
		for _, s := range universes[p.Name()] {
			if c, ok := contexts[s]; ok {
				mine = append(mine, c)
			}
		}
		if len(mine) == 0 {
			continue
		}

		plog := log.With("processor", p.Name())
		pas, err := runProcessor(plog, p, mine)
		if err != nil {
			plog.Error("process data", "err", err)
			continue
		}
		out = append(out, tagActions(plog, p.Name(), pas, mine)...)
	}
	return out
}

func runProcessor(log *slog.Logger, p Processor, contexts []*Context) (pas []ProcessorAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			pas, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	switch pp := p.(type) {
	case BatchProcessor:
		return pp.ProcessAllData(contexts)
	case DataProcessor:
		return ProcessEach(log, pp, contexts), nil
	}
	return nil, fmt.Errorf("processor %s implements neither ProcessData nor ProcessAllData", p.Name())
}

// ProcessEach is the default ProcessAllData: ProcessData over every
// context, keeping non-nil results. A failure on one symbol is logged
// and does not affect the others.
func ProcessEach(log *slog.Logger, p DataProcessor, contexts []*Context) []ProcessorAction {
	var out []ProcessorAction
	for _, c := range contexts {
		pa, err := processOne(p, c)
		if err != nil {
			log.Error("process data", "symbol", c.Symbol, "err", err)
			continue
		}
		if pa != nil {
			out = append(out, *pa)
		}
	}
	return out
}

func processOne(p DataProcessor, c *Context) (pa *ProcessorAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			pa, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return p.ProcessData(c)
}

func tagActions(log *slog.Logger, name string, pas []ProcessorAction, contexts []*Context) []Action {
	prices := make(map[string]float64, len(contexts))
	for _, c := range contexts {
		prices[c.Symbol] = c.CurrentPrice
	}

	out := make([]Action, 0, len(pas))
	for _, pa := range pas {
		price, ok := prices[pa.Symbol]
		if !ok {
			log.Warn("action outside universe", "symbol", pa.Symbol)
			continue
		}
		if math.IsNaN(pa.Percent) || pa.Percent <= 0 {
			log.Warn("non-positive percent", "symbol", pa.Symbol, "percent", pa.Percent)
			continue
		}
		if pa.Percent > 1 {
			pa.Percent = 1
		}
		out = append(out, Action{ProcessorAction: pa, Price: price, Processor: name})
	}
	return out
}
