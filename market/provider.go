package market

import (
	"context"
	"time"
)

// Provider supplies historical bars. Symbols without data yield an
// empty series, not an error.
type Provider interface {
	// Daily returns the bars of one calendar day at the given interval.
	Daily(ctx context.Context, symbol string, day time.Time, interval Interval) (Series, error)
	// Range returns bars with start <= Time < end.
	Range(ctx context.Context, symbol string, start, end time.Time, interval Interval) (Series, error)
}

// LastTrader returns the most recent trade price per symbol.
type LastTrader interface {
	LastTrades(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Calendar lists the trading sessions in a date range.
type Calendar interface {
	TradingDays(ctx context.Context, start, end time.Time) ([]Session, error)
}

// WeekdayCalendar treats every Monday to Friday as a regular session.
type WeekdayCalendar struct{}

func (WeekdayCalendar) TradingDays(_ context.Context, start, end time.Time) ([]Session, error) {
	var out []Session
	for d := Date(start); !d.After(Date(end)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		out = append(out, RegularSession(d))
	}
	return out, nil
}
