package engine

import (
	"math"
	"time"

	"github.com/rustyeddy/stocktrader/market"
)

// DaysInAMonth is the interday window for volatility stats.
const DaysInAMonth = 20

// Context is the read-only view of one symbol at one checkpoint.
// Processors must not modify it or the series it holds.
type Context struct {
	Symbol       string
	CurrentTime  time.Time
	CurrentPrice float64
	Interday     market.Series // daily bars strictly before the session date
	Intraday     market.Series // intraday bars strictly before CurrentTime
	Mode         Mode

	vwap       []float64
	openIndex  int
	volatility Volatility
}

// Volatility holds average daily range stats over the last month.
type Volatility struct {
	H2LAvg float64 // mean of low/high-1
	H2LStd float64
	L2HAvg float64 // mean of high/low-1
}

// NewContext builds a Context and its derived fields. The current price
// is the last intraday close.
func NewContext(symbol string, t time.Time, mode Mode, interday, intraday market.Series) *Context {
	return newContext(symbol, t, mode, interday, intraday, ComputeVolatility(interday))
}

func newContext(symbol string, t time.Time, mode Mode, interday, intraday market.Series, vol Volatility) *Context {
	c := &Context{
		Symbol:      symbol,
		CurrentTime: t,
		Interday:    interday,
		Intraday:    intraday,
		Mode:        mode,
		openIndex:   -1,
		volatility:  vol,
	}
	if last, ok := intraday.Last(); ok {
		c.CurrentPrice = last.Close
	}
	c.vwap = cumulativeVWAP(intraday)
	for i, b := range intraday {
		tod := b.Time.In(market.NewYork)
		if tod.Sub(market.Date(tod)) >= market.OpenTimeOfDay {
			c.openIndex = i
			break
		}
	}
	return c
}

// PrevDayClose is the close of the last interday bar, or 0 without history.
func (c *Context) PrevDayClose() float64 {
	if last, ok := c.Interday.Last(); ok {
		return last.Close
	}
	return 0
}

// VWAP is the running volume weighted price at each intraday bar.
func (c *Context) VWAP() []float64 { return c.vwap }

// MarketOpenIndex is the index of the first intraday bar at or after 09:30.
func (c *Context) MarketOpenIndex() (int, bool) {
	return c.openIndex, c.openIndex >= 0
}

// TodayOpen is the open of the first regular-session bar.
func (c *Context) TodayOpen() (float64, bool) {
	if c.openIndex < 0 {
		return 0, false
	}
	return c.Intraday[c.openIndex].Open, true
}

func (c *Context) Volatility() Volatility { return c.volatility }

func cumulativeVWAP(s market.Series) []float64 {
	out := make([]float64, len(s))
	var dollars, volume float64
	for i, b := range s {
		p := b.VWAP
		if p == 0 {
			p = b.TypicalPrice()
		}
		dollars += p * b.Volume
		volume += b.Volume
		if volume > 0 {
			out[i] = dollars / volume
		} else {
			out[i] = b.Close
		}
	}
	return out
}

// ComputeVolatility reads the last DaysInAMonth daily bars.
func ComputeVolatility(interday market.Series) Volatility {
	if len(interday) > DaysInAMonth {
		interday = interday[len(interday)-DaysInAMonth:]
	}
	var h2l, l2h []float64
	for _, b := range interday {
		if b.High <= 0 || b.Low <= 0 {
			continue
		}
		h2l = append(h2l, b.Low/b.High-1)
		l2h = append(l2h, b.High/b.Low-1)
	}
	if len(h2l) == 0 {
		return Volatility{}
	}
	avg, std := meanStd(h2l)
	l2hAvg, _ := meanStd(l2h)
	return Volatility{H2LAvg: avg, H2LStd: std, L2HAvg: l2hAvg}
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
