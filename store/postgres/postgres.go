// Package postgres is a journal.Store on PostgreSQL for live sessions
// whose history is shared with other tools.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rustyeddy/stocktrader/journal"
)

const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	is_long BOOLEAN NOT NULL,
	processor TEXT NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price DOUBLE PRECISION NOT NULL,
	entry_time TIMESTAMPTZ NOT NULL,
	exit_time TIMESTAMPTZ NOT NULL,
	qty DOUBLE PRECISION NOT NULL,
	gl DOUBLE PRECISION NOT NULL,
	gl_pct DOUBLE PRECISION NOT NULL,
	slippage DOUBLE PRECISION,
	slippage_pct DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_transactions_exit ON transactions(exit_time);

CREATE TABLE IF NOT EXISTS aggregation (
	date TEXT NOT NULL,
	processor TEXT NOT NULL,
	gl DOUBLE PRECISION NOT NULL,
	avg_gl_pct DOUBLE PRECISION NOT NULL,
	slippage DOUBLE PRECISION NOT NULL,
	avg_slippage_pct DOUBLE PRECISION NOT NULL,
	count INTEGER NOT NULL,
	win_count INTEGER NOT NULL,
	lose_count INTEGER NOT NULL,
	slippage_count INTEGER NOT NULL,
	PRIMARY KEY (date, processor)
);

CREATE TABLE IF NOT EXISTS equity (
	time TIMESTAMPTZ NOT NULL,
	cash DOUBLE PRECISION NOT NULL,
	equity DOUBLE PRECISION NOT NULL,
	positions INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
	date TEXT NOT NULL,
	logger TEXT NOT NULL,
	content TEXT NOT NULL,
	PRIMARY KEY (date, logger)
);
`

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	db   querier
	pool *pgxpool.Pool
}

var (
	_ journal.Store     = (*Store)(nil)
	_ journal.LogWriter = (*Store)(nil)
)

// Open connects, verifies connectivity and creates the schema.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

func (s *Store) InsertTransaction(ctx context.Context, t journal.Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions
		(id, symbol, is_long, processor, entry_price, exit_price, entry_time, exit_time, qty, gl, gl_pct, slippage, slippage_pct)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			exit_price = EXCLUDED.exit_price,
			qty = EXCLUDED.qty,
			gl = EXCLUDED.gl,
			gl_pct = EXCLUDED.gl_pct,
			slippage = EXCLUDED.slippage,
			slippage_pct = EXCLUDED.slippage_pct`,
		t.ID, t.Symbol, t.IsLong, t.Processor, t.EntryPrice, t.ExitPrice,
		t.EntryTime, t.ExitTime, t.Qty, t.GL, t.GLPct, t.Slippage, t.SlippagePct,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) transactionsClosedBetween(ctx context.Context, start, end time.Time) ([]journal.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, symbol, is_long, processor, entry_price, exit_price, entry_time, exit_time, qty, gl, gl_pct, slippage, slippage_pct
		FROM transactions
		WHERE exit_time >= $1 AND exit_time < $2
		ORDER BY exit_time, symbol`, start, end)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []journal.Transaction
	for rows.Next() {
		var t journal.Transaction
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.IsLong, &t.Processor,
			&t.EntryPrice, &t.ExitPrice, &t.EntryTime, &t.ExitTime,
			&t.Qty, &t.GL, &t.GLPct, &t.Slippage, &t.SlippagePct,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateAggregation recomputes the rollups of day from its transactions.
func (s *Store) UpdateAggregation(ctx context.Context, day time.Time) error {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	txns, err := s.transactionsClosedBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	for _, a := range journal.Aggregate(start, txns) {
		_, err := s.db.Exec(ctx, `
			INSERT INTO aggregation
			(date, processor, gl, avg_gl_pct, slippage, avg_slippage_pct, count, win_count, lose_count, slippage_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (date, processor) DO UPDATE SET
				gl = EXCLUDED.gl,
				avg_gl_pct = EXCLUDED.avg_gl_pct,
				slippage = EXCLUDED.slippage,
				avg_slippage_pct = EXCLUDED.avg_slippage_pct,
				count = EXCLUDED.count,
				win_count = EXCLUDED.win_count,
				lose_count = EXCLUDED.lose_count,
				slippage_count = EXCLUDED.slippage_count`,
			a.Date, a.Processor, a.GL, a.AvgGLPct, a.Slippage, a.AvgSlippagePct,
			a.Count, a.WinCount, a.LoseCount, a.SlippageCount,
		)
		if err != nil {
			return fmt.Errorf("upsert aggregation %s/%s: %w", a.Date, a.Processor, err)
		}
	}
	return nil
}

func (s *Store) RecordEquity(ctx context.Context, e journal.EquitySnapshot) error {
	_, err := s.db.Exec(ctx, `INSERT INTO equity (time, cash, equity, positions) VALUES ($1, $2, $3, $4)`,
		e.Time, e.Cash, e.Equity, e.Positions)
	if err != nil {
		return fmt.Errorf("record equity: %w", err)
	}
	return nil
}

// WriteLog stores the session log of day, replacing an earlier upload.
func (s *Store) WriteLog(ctx context.Context, day time.Time, logger, content string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO logs (date, logger, content) VALUES ($1, $2, $3)
		ON CONFLICT (date, logger) DO UPDATE SET content = EXCLUDED.content`,
		journal.DateKey(day), logger, content)
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
