package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a Store backed by a local SQLite file. Times are stored in
// UTC so range queries compare consistently.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// The live session writes from a background goroutine.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) InsertTransaction(ctx context.Context, t Transaction) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, symbol, is_long, processor, entry_price, exit_price, entry_time, exit_time, qty, gl, gl_pct, slippage, slippage_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exit_price = excluded.exit_price,
			qty = excluded.qty,
			gl = excluded.gl,
			gl_pct = excluded.gl_pct,
			slippage = excluded.slippage,
			slippage_pct = excluded.slippage_pct`,
		t.ID, t.Symbol, t.IsLong, t.Processor, t.EntryPrice, t.ExitPrice,
		t.EntryTime.UTC(), t.ExitTime.UTC(), t.Qty, t.GL, t.GLPct,
		t.Slippage, t.SlippagePct,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (j *SQLite) UpdateAggregation(ctx context.Context, day time.Time) error {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	txns, err := j.ListTransactionsClosedBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return err
	}

	for _, a := range Aggregate(start, txns) {
		_, err := j.db.ExecContext(ctx, `
			INSERT INTO aggregation
			(date, processor, gl, avg_gl_pct, slippage, avg_slippage_pct, count, win_count, lose_count, slippage_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date, processor) DO UPDATE SET
				gl = excluded.gl,
				avg_gl_pct = excluded.avg_gl_pct,
				slippage = excluded.slippage,
				avg_slippage_pct = excluded.avg_slippage_pct,
				count = excluded.count,
				win_count = excluded.win_count,
				lose_count = excluded.lose_count,
				slippage_count = excluded.slippage_count`,
			a.Date, a.Processor, a.GL, a.AvgGLPct, a.Slippage, a.AvgSlippagePct,
			a.Count, a.WinCount, a.LoseCount, a.SlippageCount,
		)
		if err != nil {
			return fmt.Errorf("upsert aggregation %s/%s: %w", a.Date, a.Processor, err)
		}
	}
	return nil
}

func (j *SQLite) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO equity (time, cash, equity, positions)
		VALUES (?, ?, ?, ?)`,
		e.Time.UTC(), e.Cash, e.Equity, e.Positions,
	)
	return err
}

func (j *SQLite) WriteLog(ctx context.Context, day time.Time, logger, content string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO logs (date, logger, content) VALUES (?, ?, ?)
		ON CONFLICT(date, logger) DO UPDATE SET content = excluded.content`,
		DateKey(day), logger, content,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
