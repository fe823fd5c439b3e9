package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rustyeddy/stocktrader/broker"
	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/internal/retry"
	"github.com/rustyeddy/stocktrader/journal"
	"github.com/rustyeddy/stocktrader/market"
)

type LiveOptions struct {
	Workers            int
	PollInterval       time.Duration
	TriggerSecond      int
	CloseTriggerSecond int
	// MaxEarly is how long before the open a session may be started.
	MaxEarly     time.Duration
	LookbackDays int
	CashReserve  float64
	Retry        retry.Policy
	FillTimeout  time.Duration
	FillPoll     time.Duration
	// LogPath is uploaded to the store at teardown when it keeps logs.
	LogPath string
}

func DefaultLiveOptions() LiveOptions {
	return LiveOptions{
		Workers:            LiveWorkers,
		PollInterval:       time.Second,
		TriggerSecond:      TriggerSecond,
		CloseTriggerSecond: CloseTriggerSecond,
		MaxEarly:           time.Hour,
		LookbackDays:       365,
		Retry:              retry.Default(),
		FillTimeout:        10 * time.Second,
		FillPoll:           2 * time.Second,
	}
}

// Live trades one session against a broker.
type Live struct {
	Broker     broker.Broker
	Provider   market.Provider
	Trades     market.LastTrader
	Processors []Processor
	Store      journal.Store
	Clock      Clock
	// Ledger defaults to a live ledger executing through Broker.
	Ledger  *Ledger
	Options LiveOptions
	Logger  *slog.Logger

	log       *slog.Logger
	session   market.Session
	builder   *Builder
	universes map[string][]string
	processed map[int64]bool
	persister *Persister
	prepared  bool
}

func (l *Live) validate() error {
	if l.Broker == nil {
		return fmt.Errorf("live: Broker is required")
	}
	if l.Provider == nil {
		return fmt.Errorf("live: Provider is required")
	}
	if len(l.Processors) == 0 {
		return fmt.Errorf("live: at least one Processor is required")
	}
	if l.Store == nil {
		return fmt.Errorf("live: Store is required")
	}
	if err := uniqueNames(l.Processors); err != nil {
		return fmt.Errorf("live: %w", err)
	}
	return nil
}

// Session is the session being traded, valid after Prepare.
func (l *Live) Session() market.Session { return l.session }

// Prepare checks the market is open today, syncs the ledger with the
// broker, sets up processors and loads interday history.
func (l *Live) Prepare(ctx context.Context) error {
	if err := l.validate(); err != nil {
		return err
	}
	l.log = logger.Or(l.Logger)
	if l.Clock == nil {
		l.Clock = WallClock()
	}
	if l.Options.Workers <= 0 {
		l.Options.Workers = LiveWorkers
	}
	if l.Options.LookbackDays <= 0 {
		l.Options.LookbackDays = 365
	}

	clock, err := retry.Value(ctx, l.Options.Retry, l.Broker.GetClock)
	if err != nil {
		return fmt.Errorf("live: clock: %w", err)
	}
	now := l.Clock.Now()
	session, err := sessionFromClock(now, clock)
	if err != nil {
		return err
	}
	if session.Open.Sub(now) > l.Options.MaxEarly && l.Options.MaxEarly > 0 {
		return fmt.Errorf("live: opens at %s: %w", session.Open.Format(time.Kitchen), ErrTooEarly)
	}
	l.session = session
	l.log = l.log.With("day", journal.DateKey(session.Day))

	if l.Ledger == nil {
		l.Ledger = NewLedger(0, LedgerConfig{
			Mode:              ModeLive,
			ShortReserveRatio: ShortReserveRatio,
			MinOpenFraction:   MinOpenFraction,
			CashReserve:       l.Options.CashReserve,
			Logger:            l.log,
			BeforeOpen:        l.sync,
			Executor: &BrokerExecutor{
				Broker:       l.Broker,
				Retry:        l.Options.Retry,
				FillTimeout:  l.Options.FillTimeout,
				PollInterval: l.Options.FillPoll,
				Clock:        l.Clock,
				Logger:       l.log,
			},
		})
	}
	if err := l.sync(ctx); err != nil {
		return fmt.Errorf("live: sync account: %w", err)
	}

	setupAll(l.log, l.Processors, l.Ledger.Positions(), now)
	l.universes = Universes(ctx, l.log, l.Processors, now)

	start := session.Day.AddDate(0, 0, -l.Options.LookbackDays)
	interday := FetchAll(ctx, l.log, Union(l.universes), l.Options.Workers, func(ctx context.Context, sym string) (market.Series, error) {
		return retry.Value(ctx, l.Options.Retry, func(ctx context.Context) (market.Series, error) {
			return l.Provider.Range(ctx, sym, start, session.Day, market.OneDay)
		})
	})
	l.builder = NewBuilder(ModeLive, l.log)
	l.builder.Reset(session, interday, map[string]market.Series{})
	l.processed = map[int64]bool{}
	l.persister = NewPersister(l.log)
	l.prepared = true

	l.log.Info("live session ready", "open", session.Open, "close", session.Close,
		"cash", l.Ledger.Cash(), "positions", len(l.Ledger.Positions()), "symbols", len(interday))
	return nil
}

// sessionFromClock derives today's session from the broker clock. An
// early close reported by the broker wins over the regular close.
func sessionFromClock(now time.Time, c broker.Clock) (market.Session, error) {
	s := market.RegularSession(now)
	today := market.Date(now)
	switch {
	case c.IsOpen:
		if !c.NextClose.IsZero() && market.Date(c.NextClose).Equal(today) {
			s.Close = c.NextClose.In(market.NewYork)
		}
	case !c.NextOpen.IsZero() && market.Date(c.NextOpen).Equal(today):
		s.Open = c.NextOpen.In(market.NewYork)
		if !c.NextClose.IsZero() && market.Date(c.NextClose).Equal(today) {
			s.Close = c.NextClose.In(market.NewYork)
		}
	default:
		return s, fmt.Errorf("live: %w", ErrMarketClosed)
	}
	if !now.Before(s.Close) && !c.IsOpen {
		return s, fmt.Errorf("live: %w", ErrMarketClosed)
	}
	return s, nil
}

// sync replaces the ledger's cash and positions with the broker's.
func (l *Live) sync(ctx context.Context) error {
	acct, err := retry.Value(ctx, l.Options.Retry, l.Broker.GetAccount)
	if err != nil {
		return err
	}
	held, err := retry.Value(ctx, l.Options.Retry, l.Broker.GetPositions)
	if err != nil {
		return err
	}
	positions := make([]Position, 0, len(held))
	for _, p := range held {
		positions = append(positions, Position{
			Symbol:     p.Symbol,
			Qty:        p.Qty,
			EntryPrice: p.AvgEntryPrice,
		})
		if p.CurrentPrice > 0 {
			l.Ledger.Mark(map[string]float64{p.Symbol: p.CurrentPrice})
		}
	}
	l.Ledger.Sync(l.Clock.Now(), acct.Cash, positions)
	return nil
}

// Run loops until the session closes or ctx is cancelled, processing
// each checkpoint once as it comes due. Teardown always runs.
func (l *Live) Run(ctx context.Context) error {
	if err := l.Prepare(ctx); err != nil {
		return err
	}
	defer l.Finish(ctx)

	for {
		now := l.Clock.Now()
		if now.After(l.session.Close) {
			l.log.Info("session closed")
			return nil
		}
		if c, ok := DueCheckpoint(now, l.session, l.Options.TriggerSecond, l.Options.CloseTriggerSecond); ok {
			l.RunCheckpoint(ctx, c)
		}
		if err := l.Clock.Sleep(ctx, l.Options.PollInterval); err != nil {
			return err
		}
	}
}

// RunCheckpoint processes checkpoint c. It reports false when c was
// already processed.
func (l *Live) RunCheckpoint(ctx context.Context, c time.Time) bool {
	if !l.prepared {
		l.log.Error("checkpoint before prepare", "checkpoint", c)
		return false
	}
	key := c.Unix()
	if l.processed[key] {
		return false
	}
	l.processed[key] = true

	log := l.log.With("checkpoint", c.Format("15:04"))
	active := ActiveProcessors(l.Processors, Frequencies(l.session, c))
	if len(active) == 0 {
		return true
	}
	mine := activeUniverses(active, l.universes)
	symbols := Union(mine)

	l.refreshIntraday(ctx, log, symbols, c)
	contexts := l.builder.BuildAll(symbols, c)
	l.Ledger.Mark(contextPrices(contexts))
	if err := l.sync(ctx); err != nil {
		log.Error("refresh positions", "err", err)
	}

	actions := Dispatch(log, active, mine, contexts)
	if len(actions) == 0 {
		log.Debug("no actions")
		return true
	}
	res := l.Ledger.Apply(ctx, c, actions)
	ackOpened(active, res.Opened)
	ackClosed(l.Processors, res.Transactions, l.Ledger)
	log.Info("checkpoint done", "actions", len(actions), "closed", len(res.Transactions), "opened", len(res.Opened))

	if len(res.Transactions) > 0 {
		txns := res.Transactions
		day := l.session.Day
		l.persister.Submit(ctx, func(ctx context.Context) error {
			for _, t := range txns {
				if err := l.Store.InsertTransaction(ctx, t); err != nil {
					return fmt.Errorf("insert %s: %w", t.ID, err)
				}
			}
			return l.Store.UpdateAggregation(ctx, day)
		})
	}
	return true
}

// refreshIntraday reloads today's bars and folds in the last trade
// prices so the bucket just ending is current.
func (l *Live) refreshIntraday(ctx context.Context, log *slog.Logger, symbols []string, c time.Time) {
	bars := FetchAll(ctx, log, symbols, l.Options.Workers, func(ctx context.Context, sym string) (market.Series, error) {
		return retry.Value(ctx, l.Options.Retry, func(ctx context.Context) (market.Series, error) {
			return l.Provider.Daily(ctx, sym, l.session.Day, market.FiveMinutes)
		})
	})

	var prices map[string]float64
	if l.Trades != nil && len(symbols) > 0 {
		var err error
		prices, err = retry.Value(ctx, l.Options.Retry, func(ctx context.Context) (map[string]float64, error) {
			return l.Trades.LastTrades(ctx, symbols)
		})
		if err != nil {
			log.Warn("last trades", "err", err)
		}
	}

	for _, sym := range symbols {
		s := bars[sym].Before(c)
		l.builder.SetIntraday(sym, withLastTrade(s, prices[sym], c))
	}
}

// Finish drains persistence, tears down processors and uploads the
// session log. It ignores cancellation of ctx.
func (l *Live) Finish(ctx context.Context) {
	if !l.prepared {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := l.persister.Close(ctx); err != nil {
		l.log.Error("drain persistence", "err", err)
	}
	teardownAll(l.log, l.Processors)

	if err := l.Store.RecordEquity(ctx, journal.EquitySnapshot{
		Time:      l.Clock.Now(),
		Cash:      l.Ledger.Cash(),
		Equity:    l.Ledger.Equity(),
		Positions: len(l.Ledger.Positions()),
	}); err != nil {
		l.log.Error("record equity", "err", err)
	}

	if lw, ok := l.Store.(journal.LogWriter); ok && l.Options.LogPath != "" {
		content, err := os.ReadFile(l.Options.LogPath)
		if err != nil {
			l.log.Error("read session log", "path", l.Options.LogPath, "err", err)
			return
		}
		if err := lw.WriteLog(ctx, l.session.Day, "live", string(content)); err != nil {
			l.log.Error("upload session log", "err", err)
		}
	}
	l.prepared = false
}
