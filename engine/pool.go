package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/stocktrader/market"
)

const (
	BacktestWorkers = 20
	LiveWorkers     = 10
)

// FetchFunc loads bars for one symbol.
type FetchFunc func(ctx context.Context, symbol string) (market.Series, error)

// FetchAll runs fetch for every symbol on at most workers goroutines and
// merges the non-empty results. A failing symbol is logged and left out.
// Workers only write their own slot; the map is built after Wait.
func FetchAll(ctx context.Context, log *slog.Logger, symbols []string, workers int, fetch FetchFunc) map[string]market.Series {
	if workers <= 0 {
		workers = 1
	}
	results := make([]market.Series, len(symbols))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, sym := range symbols {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			bars, err := fetch(ctx, sym)
			if err != nil {
				log.Warn("load bars", "symbol", sym, "err", err)
				return nil
			}
			results[i] = bars
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]market.Series, len(symbols))
	for i, sym := range symbols {
		if len(results[i]) > 0 {
			out[sym] = results[i]
		}
	}
	return out
}
