package processors

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/stocktrader/engine"
	"github.com/rustyeddy/stocktrader/internal/logger"
)

// Overnight buys its symbols at one open and sells them at the next,
// so it holds every other night. Params: symbols, percent (default 1).
type Overnight struct {
	universe
	*book
	name    string
	percent float64
	log     *slog.Logger
}

func NewOvernight(cfg engine.ProcessorConfig) (engine.Processor, error) {
	u, err := symbolsParam(cfg)
	if err != nil {
		return nil, err
	}
	pct := cfg.Float("percent", 1)
	if pct <= 0 || pct > 1 {
		return nil, fmt.Errorf("%s: percent must be in (0, 1], got %v", cfg.Name, pct)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.L().With("processor", cfg.Name)
	}
	return &Overnight{universe: u, book: newBook(), name: cfg.Name, percent: pct, log: log}, nil
}

func (o *Overnight) Name() string                             { return o.name }
func (o *Overnight) TradingFrequency() engine.TradingFrequency { return engine.CloseToOpen }

func (o *Overnight) Setup(held []engine.Position, now time.Time) error {
	o.reset(held, o.universe)
	o.log.Debug("setup", "time", now)
	return nil
}

func (o *Overnight) Teardown() error { return nil }

func (o *Overnight) ProcessData(c *engine.Context) (*engine.ProcessorAction, error) {
	if c.CurrentPrice <= 0 {
		return nil, nil
	}
	if long, ok := o.side(c.Symbol); ok {
		return closeAction(c.Symbol, long), nil
	}
	o.opening(c.Symbol, true)
	return &engine.ProcessorAction{Symbol: c.Symbol, Type: engine.BuyToOpen, Percent: o.percent}, nil
}
