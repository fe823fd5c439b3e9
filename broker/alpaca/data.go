package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rustyeddy/stocktrader/market"
)

var (
	_ market.Provider   = (*Client)(nil)
	_ market.LastTrader = (*Client)(nil)
)

const barPageLimit = 10000

func timeframe(i market.Interval) (string, error) {
	switch i {
	case market.FiveMinutes:
		return "5Min", nil
	case market.OneDay:
		return "1Day", nil
	}
	return "", fmt.Errorf("unsupported interval %s", i)
}

// Daily returns the bars of one calendar day, premarket included.
func (c *Client) Daily(ctx context.Context, symbol string, day time.Time, interval market.Interval) (market.Series, error) {
	d := market.Date(day)
	return c.Range(ctx, symbol, d, d.AddDate(0, 0, 1), interval)
}

// Range pages through /v2/stocks/{symbol}/bars for start <= t < end.
func (c *Client) Range(ctx context.Context, symbol string, start, end time.Time, interval market.Interval) (market.Series, error) {
	tf, err := timeframe(interval)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("timeframe", tf)
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.Add(-time.Second).UTC().Format(time.RFC3339))
	params.Set("limit", fmt.Sprint(barPageLimit))
	params.Set("adjustment", "split")
	params.Set("feed", c.cfg.Feed)

	var out market.Series
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/bars"
	for {
		res, err := c.do(ctx, http.MethodGet, c.cfg.DataURL, path, params, nil)
		if err != nil {
			return nil, fmt.Errorf("bars %s: %w", symbol, err)
		}
		for _, b := range res.Get("bars").Array() {
			t := parseTime(b.Get("t"))
			if t.IsZero() {
				continue
			}
			if interval == market.OneDay {
				t = market.Date(t)
			} else {
				t = t.In(market.NewYork)
			}
			out = append(out, market.Bar{
				Time:   t,
				Open:   num(b.Get("o")),
				High:   num(b.Get("h")),
				Low:    num(b.Get("l")),
				Close:  num(b.Get("c")),
				Volume: num(b.Get("v")),
				VWAP:   num(b.Get("vw")),
			})
		}
		next := res.Get("next_page_token").String()
		if next == "" {
			break
		}
		params.Set("page_token", next)
	}
	return out.Between(start, end), nil
}

// LastTrades returns the latest trade price per symbol. Symbols without
// a trade are absent from the result.
func (c *Client) LastTrades(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("feed", c.cfg.Feed)

	res, err := c.do(ctx, http.MethodGet, c.cfg.DataURL, "/v2/stocks/trades/latest", params, nil)
	if err != nil {
		return nil, fmt.Errorf("latest trades: %w", err)
	}
	res.Get("trades").ForEach(func(sym, trade gjson.Result) bool {
		if p := num(trade.Get("p")); p > 0 {
			out[sym.String()] = p
		}
		return true
	})
	return out, nil
}
