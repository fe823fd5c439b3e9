package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/journal"
	"github.com/rustyeddy/stocktrader/market"
)

type BacktestOptions struct {
	Start time.Time
	End   time.Time
	Cash  float64
	// Workers bounds concurrent bar loads.
	Workers int
	// LookbackDays of daily bars are loaded before Start.
	LookbackDays int
	// Progress receives a progress bar over days; nil disables it.
	Progress io.Writer
}

// Backtest replays trading days from historical bars.
type Backtest struct {
	Provider   market.Provider
	Calendar   market.Calendar
	Processors []Processor
	Store      journal.Store
	Ledger     *Ledger
	Options    BacktestOptions
	Logger     *slog.Logger

	// UniverseCache is shared across runs when set; otherwise each run
	// gets its own.
	UniverseCache *UniverseCache

	log      *slog.Logger
	builder  *Builder
	interday map[string]market.Series
	loaded   map[string]bool
	summary  *Summary
}

// Summary is the outcome of a backtest.
type Summary struct {
	Start        time.Time
	End          time.Time
	Days         int
	StartEquity  float64
	EndEquity    float64
	Wins         int
	Losses       int
	Transactions []journal.Transaction
	Equity       []journal.EquitySnapshot
	Timings      map[string]time.Duration
}

func (b *Backtest) validate() error {
	if b.Provider == nil {
		return fmt.Errorf("backtest: Provider is required")
	}
	if b.Calendar == nil {
		return fmt.Errorf("backtest: Calendar is required")
	}
	if len(b.Processors) == 0 {
		return fmt.Errorf("backtest: at least one Processor is required")
	}
	if b.Store == nil {
		return fmt.Errorf("backtest: Store is required")
	}
	if b.Options.End.Before(b.Options.Start) {
		return fmt.Errorf("backtest: End is before Start")
	}
	if b.Ledger == nil && b.Options.Cash <= 0 {
		return fmt.Errorf("backtest: Cash must be positive")
	}
	if err := uniqueNames(b.Processors); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	return nil
}

// Run replays every trading day in [Start, End]. Processors are set up
// and torn down once per day. Persistence errors are logged, not returned.
func (b *Backtest) Run(ctx context.Context) (Summary, error) {
	if err := b.validate(); err != nil {
		return Summary{}, err
	}
	b.log = logger.Or(b.Logger)
	if b.Ledger == nil {
		cfg := DefaultLedgerConfig()
		cfg.Logger = b.log
		b.Ledger = NewLedger(b.Options.Cash, cfg)
	}
	if b.Options.Workers <= 0 {
		b.Options.Workers = BacktestWorkers
	}
	if b.Options.LookbackDays <= 0 {
		b.Options.LookbackDays = 365
	}
	if b.UniverseCache == nil {
		b.UniverseCache = NewUniverseCache()
	}

	days, err := b.Calendar.TradingDays(ctx, b.Options.Start, b.Options.End)
	if err != nil {
		return Summary{}, fmt.Errorf("backtest: calendar: %w", err)
	}
	if len(days) == 0 {
		return Summary{}, fmt.Errorf("backtest: %w", ErrNoSession)
	}

	b.builder = NewBuilder(ModeBacktest, b.log)
	b.interday = map[string]market.Series{}
	b.loaded = map[string]bool{}
	b.summary = &Summary{
		Start:       days[0].Day,
		End:         days[len(days)-1].Day,
		StartEquity: b.Ledger.Equity(),
		Timings:     map[string]time.Duration{},
	}

	var bar *progressbar.ProgressBar
	if b.Options.Progress != nil {
		bar = progressbar.NewOptions(len(days),
			progressbar.OptionSetWriter(b.Options.Progress),
			progressbar.OptionSetDescription("backtest"),
			progressbar.OptionShowCount(),
		)
	}

	for _, s := range days {
		if err := ctx.Err(); err != nil {
			b.finish()
			return *b.summary, err
		}
		b.runDay(ctx, s)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	b.finish()
	return *b.summary, nil
}

func (b *Backtest) finish() {
	b.summary.EndEquity = b.Ledger.Equity()
	b.summary.Wins, b.summary.Losses = b.Ledger.WinsLosses()
}

func (b *Backtest) timed(stage string, fn func()) {
	start := time.Now()
	fn()
	b.summary.Timings[stage] += time.Since(start)
}

func (b *Backtest) runDay(ctx context.Context, s market.Session) {
	b.summary.Days++
	log := b.log.With("day", journal.DateKey(s.Day))

	setupAll(log, b.Processors, b.Ledger.Positions(), s.Open)
	defer teardownAll(log, b.Processors)

	universes := b.UniverseCache.Universes(ctx, log, b.Processors, s.Open)
	symbols := Union(universes)
	held := heldSymbols(b.Ledger.Positions())

	b.timed("load", func() {
		b.loadInterday(ctx, log, symbols)
		intraday := FetchAll(ctx, log, union(symbols, held), b.Options.Workers, func(ctx context.Context, sym string) (market.Series, error) {
			return b.Provider.Daily(ctx, sym, s.Day, market.FiveMinutes)
		})
		b.builder.Reset(s, b.interday, intraday)
	})

	for _, t := range Checkpoints(s) {
		b.checkpoint(ctx, log, s, t, universes)
	}

	// value holdings at the last bar of the day
	b.Ledger.Mark(lastPrices(b.builder, heldSymbols(b.Ledger.Positions()), s.Close.Add(CheckpointInterval)))
	snap := journal.EquitySnapshot{
		Time:      s.Close,
		Cash:      b.Ledger.Cash(),
		Equity:    b.Ledger.Equity(),
		Positions: len(b.Ledger.Positions()),
	}
	b.summary.Equity = append(b.summary.Equity, snap)
	if err := b.Store.RecordEquity(ctx, snap); err != nil {
		log.Error("record equity", "err", err)
	}
	if err := b.Store.UpdateAggregation(ctx, s.Day); err != nil {
		log.Error("update aggregation", "err", err)
	}
	log.Info("day done", "cash", snap.Cash, "equity", snap.Equity, "positions", snap.Positions)
}

func (b *Backtest) loadInterday(ctx context.Context, log *slog.Logger, symbols []string) {
	var missing []string
	for _, s := range symbols {
		if !b.loaded[s] {
			missing = append(missing, s)
			b.loaded[s] = true
		}
	}
	if len(missing) == 0 {
		return
	}
	start := market.Date(b.Options.Start).AddDate(0, 0, -b.Options.LookbackDays)
	end := market.Date(b.Options.End).AddDate(0, 0, 1)
	for sym, bars := range FetchAll(ctx, log, missing, b.Options.Workers, func(ctx context.Context, sym string) (market.Series, error) {
		return b.Provider.Range(ctx, sym, start, end, market.OneDay)
	}) {
		b.interday[sym] = bars
	}
}

func (b *Backtest) checkpoint(ctx context.Context, log *slog.Logger, s market.Session, t time.Time, universes map[string][]string) {
	active := ActiveProcessors(b.Processors, Frequencies(s, t))
	b.Ledger.Mark(lastPrices(b.builder, heldSymbols(b.Ledger.Positions()), t))
	if len(active) == 0 {
		return
	}

	mine := activeUniverses(active, universes)
	var contexts map[string]*Context
	b.timed("context", func() {
		contexts = b.builder.BuildAll(Union(mine), t)
	})
	b.Ledger.Mark(contextPrices(contexts))

	var actions []Action
	b.timed("process", func() {
		actions = Dispatch(log, active, mine, contexts)
	})
	if len(actions) == 0 {
		return
	}

	var res Result
	b.timed("ledger", func() {
		res = b.Ledger.Apply(ctx, t, actions)
	})
	ackOpened(active, res.Opened)
	ackClosed(b.Processors, res.Transactions, b.Ledger)

	for _, txn := range res.Transactions {
		if err := b.Store.InsertTransaction(ctx, txn); err != nil {
			log.Error("insert transaction", "id", txn.ID, "err", err)
		}
	}
	b.summary.Transactions = append(b.summary.Transactions, res.Transactions...)
}

func union(a, b []string) []string {
	return Union(map[string][]string{"a": a, "b": b})
}

// Report turns the summary into the org-report record.
func (s Summary) Report(processors []string) journal.BacktestRun {
	r := journal.BacktestRun{
		Created:     time.Now(),
		Processors:  processors,
		Start:       s.Start,
		End:         s.End,
		Days:        s.Days,
		Trades:      len(s.Transactions),
		Wins:        s.Wins,
		Losses:      s.Losses,
		StartEquity: s.StartEquity,
		EndEquity:   s.EndEquity,
		NetPL:       s.EndEquity - s.StartEquity,
		Timings:     s.Timings,
	}
	if s.StartEquity != 0 {
		r.ReturnPct = r.NetPL / s.StartEquity * 100
	}
	if r.Trades > 0 {
		r.WinRate = float64(s.Wins) / float64(r.Trades)
	}
	if s.Days > 0 {
		r.TradesPerDay = float64(r.Trades) / float64(s.Days)
	}
	r.MaxDDPct = maxDrawdownPct(s.StartEquity, s.Equity)
	return r
}

func maxDrawdownPct(start float64, equity []journal.EquitySnapshot) float64 {
	peak := start
	worst := 0.0
	for _, e := range equity {
		peak = math.Max(peak, e.Equity)
		if peak > 0 {
			worst = math.Max(worst, (peak-e.Equity)/peak*100)
		}
	}
	return worst
}
