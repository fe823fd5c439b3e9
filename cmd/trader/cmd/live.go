package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocktrader/broker"
	"github.com/rustyeddy/stocktrader/broker/paper"
	"github.com/rustyeddy/stocktrader/engine"
	"github.com/rustyeddy/stocktrader/internal/logger"
	"github.com/rustyeddy/stocktrader/market"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Trade today's session",
	Long: `Live trades the current session through the configured broker.

Start it up to an hour before the open; it exits after the close. With
live.broker=paper orders fill in memory at the last quoted price.

Example:
  TRADER_ALPACA_KEY_ID=... TRADER_ALPACA_SECRET_KEY=... trader live -c trader.yaml`,
	RunE: runLive,
}

var livePaperCash float64

func init() {
	rootCmd.AddCommand(liveCmd)
	liveCmd.Flags().Float64Var(&livePaperCash, "paper-cash", 0, "starting cash of the paper broker (default account.cash)")
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := cfg.LiveOptions()
	if err != nil {
		return err
	}

	if opts.LogPath != "" {
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("open session log: %w", err)
		}
		defer f.Close()
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		brk      broker.Broker
		provider market.Provider
		trades   market.LastTrader
	)
	clock := engine.WallClock()
	hasKeys := cfg.Alpaca.KeyID != "" && cfg.Alpaca.SecretKey != ""

	switch {
	case cfg.Live.Broker == "alpaca":
		c := alpacaClient(cfg)
		brk, provider, trades = c, c, c
	case hasKeys:
		c := alpacaClient(cfg)
		pb := newPaper(cfg.Account.Cash, clock)
		brk, provider, trades = pb, c, paperTrades{src: c, broker: pb}
	default:
		p := market.NewCSVProvider(cfg.Backtest.DataDir)
		pb := newPaper(cfg.Account.Cash, clock)
		brk, provider = pb, p
		trades = paperTrades{src: barTrades{provider: p, now: clock.Now}, broker: pb}
	}

	procs, _, err := buildProcessors(cfg, provider)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	l := &engine.Live{
		Broker:     brk,
		Provider:   provider,
		Trades:     trades,
		Processors: procs,
		Store:      store,
		Clock:      clock,
		Options:    opts,
		Logger:     logger.L(),
	}
	err = l.Run(ctx)
	switch {
	case errors.Is(err, engine.ErrMarketClosed):
		fmt.Fprintln(cmd.OutOrStdout(), "market is closed today")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

func newPaper(cash float64, clock engine.Clock) *paper.Broker {
	if livePaperCash > 0 {
		cash = livePaperCash
	}
	return paper.New(cash, clock.Now)
}
