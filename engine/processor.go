package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/stocktrader/market"
)

// Processor is a pluggable strategy. A processor also implements
// DataProcessor, BatchProcessor, or both; BatchProcessor wins.
type Processor interface {
	Name() string
	TradingFrequency() TradingFrequency
	StockUniverse(ctx context.Context, viewTime time.Time) ([]string, error)
	// Setup is called once per session before the first checkpoint with
	// the positions already held.
	Setup(held []Position, now time.Time) error
	// Teardown is called once per session after the last checkpoint.
	Teardown() error
}

// DataProcessor decides one symbol at a time. A nil action means no trade.
type DataProcessor interface {
	Processor
	ProcessData(c *Context) (*ProcessorAction, error)
}

// BatchProcessor sees every context of its universe at once, for
// strategies that rank across symbols.
type BatchProcessor interface {
	Processor
	ProcessAllData(contexts []*Context) ([]ProcessorAction, error)
}

// Acker is told when one of its open actions was executed.
type Acker interface {
	Ack(symbol string)
}

// CloseAcker is told when a symbol's position was closed out entirely,
// whichever processor asked for the close.
type CloseAcker interface {
	AckClose(symbol string)
}

// Base gives processors no-op Setup and Teardown.
type Base struct{}

func (Base) Setup([]Position, time.Time) error { return nil }
func (Base) Teardown() error                   { return nil }

// ProcessorConfig is handed to a Factory. Each processor gets its own
// logger and output directory.
type ProcessorConfig struct {
	Name      string
	OutputDir string
	Logger    *slog.Logger
	Provider  market.Provider
	Params    map[string]any
}

func (c ProcessorConfig) Float(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (c ProcessorConfig) Int(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (c ProcessorConfig) Strings(key string) []string {
	switch v := c.Params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type Factory func(cfg ProcessorConfig) (Processor, error)

// Registry maps processor names to factories. Processors are registered
// explicitly at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || f == nil {
		return fmt.Errorf("register processor: name and factory are required")
	}
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("register processor: %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the processor named by cfg.Name.
func (r *Registry) New(cfg ProcessorConfig) (Processor, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown processor %q (known: %v)", cfg.Name, r.Names())
	}
	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("processor %s: %w", cfg.Name, err)
	}
	return p, nil
}
