package market

import (
	"sort"
	"time"
)

// Interval is a bar width.
type Interval time.Duration

const (
	FiveMinutes = Interval(5 * time.Minute)
	OneDay      = Interval(24 * time.Hour)
)

func (i Interval) Duration() time.Duration { return time.Duration(i) }

func (i Interval) String() string {
	switch i {
	case FiveMinutes:
		return "5m"
	case OneDay:
		return "1d"
	default:
		return time.Duration(i).String()
	}
}

// Bar is an OHLCV bar stamped with its open time.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	VWAP   float64
}

// TypicalPrice is (high+low+close)/3.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Series is a time-ordered run of bars.
type Series []Bar

// Before returns the prefix of bars stamped strictly before t.
// The returned slice shares storage with s.
func (s Series) Before(t time.Time) Series {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(t) })
	return s[:i]
}

// Between returns bars with start <= Time < end.
func (s Series) Between(start, end time.Time) Series {
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(start) })
	hi := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(end) })
	if hi < lo {
		return nil
	}
	return s[lo:hi]
}

// Last returns the final bar. ok is false for an empty series.
func (s Series) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Sort orders bars by time in place and returns s.
func (s Series) Sort() Series {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
	return s
}

// Clone returns a copy that can be mutated without touching s.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}
