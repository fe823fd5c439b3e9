package processors

import (
	"sort"

	"github.com/rustyeddy/stocktrader/engine"
)

// Noop watches its symbols and never trades.
type Noop struct {
	engine.Base
	universe
	name string
}

func NewNoop(cfg engine.ProcessorConfig) (engine.Processor, error) {
	u := universe(append([]string(nil), cfg.Strings("symbols")...))
	sort.Strings(u)
	return &Noop{name: cfg.Name, universe: u}, nil
}

func (n *Noop) Name() string                             { return n.name }
func (n *Noop) TradingFrequency() engine.TradingFrequency { return engine.FiveMin }

func (n *Noop) ProcessData(*engine.Context) (*engine.ProcessorAction, error) {
	return nil, nil
}
