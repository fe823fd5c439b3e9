package journal

import (
	"context"
	"time"
)

// Transaction is a completed (partial or full) close of a position.
type Transaction struct {
	ID         string
	Symbol     string
	IsLong     bool
	Processor  string
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	Qty        float64 // shares closed, always positive
	GL         float64
	GLPct      float64

	// Slippage is only known for live fills; nil in backtests.
	Slippage    *float64
	SlippagePct *float64
}

func (t Transaction) Win() bool { return t.GL > 0 }

// EquitySnapshot is the portfolio value at a point in time.
type EquitySnapshot struct {
	Time      time.Time
	Cash      float64
	Equity    float64
	Positions int
}

// Store persists the output of a trading session.
type Store interface {
	InsertTransaction(ctx context.Context, t Transaction) error
	// UpdateAggregation recomputes the per-processor rollup for day.
	UpdateAggregation(ctx context.Context, day time.Time) error
	RecordEquity(ctx context.Context, e EquitySnapshot) error
	Close() error
}

// LogWriter is implemented by stores that keep session logs.
type LogWriter interface {
	WriteLog(ctx context.Context, day time.Time, logger, content string) error
}

// DateKey formats the calendar date used to key daily rows.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
