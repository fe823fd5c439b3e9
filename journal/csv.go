package journal

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// CSV is a Store writing transactions.csv, equity.csv and
// aggregation.csv into one directory. Aggregation rows are appended,
// not upserted, so re-running a day adds a second row.
type CSV struct {
	mu          sync.Mutex
	txns        *csv.Writer
	equity      *csv.Writer
	aggregation *csv.Writer
	files       []*os.File

	byDay map[string][]Transaction
}

var (
	transactionHeader = []string{"id", "symbol", "is_long", "processor", "entry_price", "exit_price", "entry_time", "exit_time", "qty", "gl", "gl_pct", "slippage", "slippage_pct"}
	equityHeader      = []string{"time", "cash", "equity", "positions"}
	aggregationHeader = []string{"date", "processor", "gl", "avg_gl_pct", "slippage", "avg_slippage_pct", "count", "win_count", "lose_count", "slippage_count"}
)

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	j := &CSV{byDay: map[string][]Transaction{}}
	open := func(name string, header []string) (*csv.Writer, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.txns, err = open("transactions.csv", transactionHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if j.equity, err = open("equity.csv", equityHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if j.aggregation, err = open("aggregation.csv", aggregationHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	return j, nil
}

func (j *CSV) InsertTransaction(_ context.Context, t Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	day := DateKey(t.ExitTime)
	j.byDay[day] = append(j.byDay[day], t)

	err := j.txns.Write([]string{
		t.ID,
		t.Symbol,
		strconv.FormatBool(t.IsLong),
		t.Processor,
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.EntryTime.Format(time.RFC3339),
		t.ExitTime.Format(time.RFC3339),
		f(t.Qty),
		f(t.GL),
		f(t.GLPct),
		optional(t.Slippage),
		optional(t.SlippagePct),
	})
	if err != nil {
		return err
	}
	j.txns.Flush()
	return j.txns.Error()
}

func (j *CSV) UpdateAggregation(_ context.Context, day time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, a := range Aggregate(day, j.byDay[DateKey(day)]) {
		err := j.aggregation.Write([]string{
			a.Date,
			a.Processor,
			f(a.GL),
			f(a.AvgGLPct),
			f(a.Slippage),
			f(a.AvgSlippagePct),
			strconv.Itoa(a.Count),
			strconv.Itoa(a.WinCount),
			strconv.Itoa(a.LoseCount),
			strconv.Itoa(a.SlippageCount),
		})
		if err != nil {
			return err
		}
	}
	j.aggregation.Flush()
	return j.aggregation.Error()
}

func (j *CSV) RecordEquity(_ context.Context, e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.equity.Write([]string{
		e.Time.Format(time.RFC3339),
		f(e.Cash),
		f(e.Equity),
		strconv.Itoa(e.Positions),
	})
	if err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, w := range []*csv.Writer{j.txns, j.equity, j.aggregation} {
		w.Flush()
		if err := w.Error(); err != nil {
			j.closeFiles()
			return err
		}
	}
	return j.closeFiles()
}

func (j *CSV) closeFiles() error {
	var first error
	for _, f := range j.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", f.Name(), err)
		}
	}
	j.files = nil
	return first
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

func optional(x *float64) string {
	if x == nil {
		return ""
	}
	return f(*x)
}
