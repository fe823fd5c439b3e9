package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const transactionColumns = `id, symbol, is_long, processor, entry_price, exit_price, entry_time, exit_time, qty, gl, gl_pct, slippage, slippage_pct`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (Transaction, error) {
	var (
		t           Transaction
		slip, slipP sql.NullFloat64
	)
	err := s.Scan(
		&t.ID, &t.Symbol, &t.IsLong, &t.Processor,
		&t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime,
		&t.Qty, &t.GL, &t.GLPct, &slip, &slipP,
	)
	if err != nil {
		return Transaction{}, err
	}
	if slip.Valid {
		t.Slippage = &slip.Float64
	}
	if slipP.Valid {
		t.SlippagePct = &slipP.Float64
	}
	return t, nil
}

// GetTransaction returns a single transaction by ID.
func (j *SQLite) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction %q not found", id)
	}
	return t, err
}

// ListTransactionsClosedBetween returns transactions whose exit_time is
// within [start, end), oldest first.
func (j *SQLite) ListTransactionsClosedBetween(ctx context.Context, start, end time.Time) ([]Transaction, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE exit_time >= ? AND exit_time < ?
		ORDER BY exit_time ASC, symbol ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAggregations returns rollups with start <= date <= end.
func (j *SQLite) ListAggregations(ctx context.Context, start, end time.Time) ([]Aggregation, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT date, processor, gl, avg_gl_pct, slippage, avg_slippage_pct, count, win_count, lose_count, slippage_count
		FROM aggregation
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, processor ASC`, DateKey(start), DateKey(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Aggregation
	for rows.Next() {
		var a Aggregation
		if err := rows.Scan(
			&a.Date, &a.Processor, &a.GL, &a.AvgGLPct, &a.Slippage, &a.AvgSlippagePct,
			&a.Count, &a.WinCount, &a.LoseCount, &a.SlippageCount,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListEquityBetween returns equity snapshots within [start, end).
func (j *SQLite) ListEquityBetween(ctx context.Context, start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT time, cash, equity, positions
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Cash, &e.Equity, &e.Positions); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
