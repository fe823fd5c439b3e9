package journal

import (
	"sort"
	"time"
)

// Aggregation is the daily rollup of transactions for one processor.
type Aggregation struct {
	Date           string
	Processor      string
	GL             float64
	AvgGLPct       float64
	Slippage       float64
	AvgSlippagePct float64
	Count          int
	WinCount       int
	LoseCount      int
	SlippageCount  int
}

// Aggregate rolls up txns by processor. Only transactions whose exit
// date matches day are counted. The result is sorted by processor.
func Aggregate(day time.Time, txns []Transaction) []Aggregation {
	key := DateKey(day)
	by := map[string]*Aggregation{}

	for _, t := range txns {
		if DateKey(t.ExitTime.In(day.Location())) != key {
			continue
		}
		a, ok := by[t.Processor]
		if !ok {
			a = &Aggregation{Date: key, Processor: t.Processor}
			by[t.Processor] = a
		}
		a.Count++
		a.GL += t.GL
		a.AvgGLPct += t.GLPct
		if t.GL > 0 {
			a.WinCount++
		} else if t.GL < 0 {
			a.LoseCount++
		}
		if t.Slippage != nil && t.SlippagePct != nil {
			a.SlippageCount++
			a.Slippage += *t.Slippage
			a.AvgSlippagePct += *t.SlippagePct
		}
	}

	out := make([]Aggregation, 0, len(by))
	for _, a := range by {
		a.AvgGLPct /= float64(a.Count)
		if a.SlippageCount > 0 {
			a.AvgSlippagePct /= float64(a.SlippageCount)
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Processor < out[j].Processor })
	return out
}
