package processors

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/rustyeddy/stocktrader/engine"
	"github.com/rustyeddy/stocktrader/internal/logger"
)

// ZScore fades moves away from the rolling mean of 5-minute closes.
// It buys below -threshold, shorts above +threshold and closes once
// the price crosses back over the mean.
//
// Params: symbols, period (20), threshold (2), percent (0.1).
type ZScore struct {
	universe
	*book
	name      string
	period    int
	threshold float64
	percent   float64
	log       *slog.Logger
}

func NewZScore(cfg engine.ProcessorConfig) (engine.Processor, error) {
	u, err := symbolsParam(cfg)
	if err != nil {
		return nil, err
	}
	z := &ZScore{
		universe:  u,
		book:      newBook(),
		name:      cfg.Name,
		period:    cfg.Int("period", 20),
		threshold: cfg.Float("threshold", 2),
		percent:   cfg.Float("percent", 0.1),
		log:       cfg.Logger,
	}
	if z.period < 2 {
		return nil, fmt.Errorf("%s: period must be at least 2", cfg.Name)
	}
	if z.threshold <= 0 {
		return nil, fmt.Errorf("%s: threshold must be positive", cfg.Name)
	}
	if z.percent <= 0 || z.percent > 1 {
		return nil, fmt.Errorf("%s: percent must be in (0, 1], got %v", cfg.Name, z.percent)
	}
	if z.log == nil {
		z.log = logger.L().With("processor", cfg.Name)
	}
	return z, nil
}

func (z *ZScore) Name() string                             { return z.name }
func (z *ZScore) TradingFrequency() engine.TradingFrequency { return engine.FiveMin }

func (z *ZScore) Setup(held []engine.Position, _ time.Time) error {
	z.reset(held, z.universe)
	return nil
}

func (z *ZScore) Teardown() error { return nil }

// Score is the z-score of the last close against the trailing period.
// ok is false until period closes are available or when they are flat.
func (z *ZScore) Score(closes []float64) (float64, bool) {
	if len(closes) < z.period {
		return 0, false
	}
	closes = closes[len(closes)-z.period:]
	sma := talib.Sma(closes, z.period)
	std := talib.StdDev(closes, z.period, 1)
	last := len(closes) - 1
	if std[last] <= 1e-12 || math.IsNaN(std[last]) {
		return 0, false
	}
	return (closes[last] - sma[last]) / std[last], true
}

func (z *ZScore) ProcessData(c *engine.Context) (*engine.ProcessorAction, error) {
	score, ok := z.Score(c.Intraday.Closes())
	if !ok {
		return nil, nil
	}

	if long, held := z.side(c.Symbol); held {
		if (long && score >= 0) || (!long && score <= 0) {
			z.log.Info("revert", "symbol", c.Symbol, "z", score)
			return closeAction(c.Symbol, long), nil
		}
		return nil, nil
	}

	switch {
	case score <= -z.threshold:
		z.opening(c.Symbol, true)
		return &engine.ProcessorAction{Symbol: c.Symbol, Type: engine.BuyToOpen, Percent: z.percent}, nil
	case score >= z.threshold:
		z.opening(c.Symbol, false)
		return &engine.ProcessorAction{Symbol: c.Symbol, Type: engine.SellToOpen, Percent: z.percent}, nil
	}
	return nil, nil
}
