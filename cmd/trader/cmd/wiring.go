package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rustyeddy/stocktrader/broker/alpaca"
	"github.com/rustyeddy/stocktrader/broker/paper"
	"github.com/rustyeddy/stocktrader/config"
	"github.com/rustyeddy/stocktrader/engine"
	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/journal"
	"github.com/rustyeddy/stocktrader/market"
	"github.com/rustyeddy/stocktrader/processors"
	"github.com/rustyeddy/stocktrader/store/postgres"
)

func openStore(ctx context.Context, jc config.JournalConfig) (journal.Store, error) {
	switch jc.Type {
	case "csv":
		return journal.NewCSV(jc.Dir)
	case "sqlite":
		return journal.NewSQLite(jc.DBPath)
	case "postgres":
		return postgres.Open(ctx, jc.PostgresURL)
	}
	return nil, fmt.Errorf("unknown journal type %q", jc.Type)
}

func alpacaClient(cfg *config.Config) *alpaca.Client {
	return alpaca.NewClient(alpaca.Config{
		KeyID:      cfg.Alpaca.KeyID,
		SecretKey:  cfg.Alpaca.SecretKey,
		TradingURL: cfg.Alpaca.TradingURL,
		DataURL:    cfg.Alpaca.DataURL,
		Feed:       cfg.Alpaca.Feed,
	})
}

// buildProcessors instantiates the configured processors from the
// shipped registry. Each gets its own logger.
func buildProcessors(cfg *config.Config, provider market.Provider) ([]engine.Processor, []string, error) {
	reg := processors.Default()
	var (
		procs []engine.Processor
		names []string
	)
	for _, pc := range cfg.Processors {
		p, err := reg.New(engine.ProcessorConfig{
			Name:      pc.Name,
			OutputDir: pc.OutputDir,
			Logger:    logger.L().With("processor", pc.Name),
			Provider:  provider,
			Params:    pc.Params,
		})
		if err != nil {
			return nil, nil, err
		}
		procs = append(procs, p)
		names = append(names, p.Name())
	}
	return procs, names, nil
}

// backtestSource picks the bar provider and calendar of a backtest.
func backtestSource(cfg *config.Config) (market.Provider, market.Calendar, string) {
	if cfg.Backtest.Source == "alpaca" {
		c := alpacaClient(cfg)
		return c, c, "alpaca:" + cfg.Alpaca.Feed
	}
	dir, _ := filepath.Abs(cfg.Backtest.DataDir)
	return market.NewCSVProvider(cfg.Backtest.DataDir), market.WeekdayCalendar{}, "csv:" + dir
}

// paperTrades hands every quote it reads to the paper broker, so paper
// orders fill at the prices the processors saw.
type paperTrades struct {
	src    market.LastTrader
	broker *paper.Broker
}

func (p paperTrades) LastTrades(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := p.src.LastTrades(ctx, symbols)
	if err != nil {
		return nil, err
	}
	p.broker.SetPrices(prices)
	return prices, nil
}

// barTrades quotes the last close before now from a bar provider. It
// stands in for a trade feed when bars come from files.
type barTrades struct {
	provider market.Provider
	now      func() time.Time
}

func (b barTrades) LastTrades(ctx context.Context, symbols []string) (map[string]float64, error) {
	now := b.now()
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		s, err := b.provider.Daily(ctx, sym, now, market.FiveMinutes)
		if err != nil {
			return nil, fmt.Errorf("bars %s: %w", sym, err)
		}
		if last, ok := s.Before(now).Last(); ok {
			out[sym] = last.Close
		}
	}
	return out, nil
}
