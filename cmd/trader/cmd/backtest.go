package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocktrader/engine"
	"github.com/rustyeddy/stocktrader/internal/id"
	"github.com/rustyeddy/stocktrader/internal/logger"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay processors over historical bars",
	Long: `Backtest runs every configured processor over the trading days
between backtest.start and backtest.end.

Bars come from CSV files (<data_dir>/5m/SYMBOL.csv, <data_dir>/1d/SYMBOL.csv)
or from the Alpaca market data API.

Example:
  trader backtest -c trader.yaml --start 2024-01-02 --end 2024-03-28`,
	RunE: runBacktest,
}

var (
	btStart    string
	btEnd      string
	btReport   string
	btProgress bool
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&btStart, "start", "", "first day (YYYY-MM-DD), overrides backtest.start")
	backtestCmd.Flags().StringVar(&btEnd, "end", "", "last day (YYYY-MM-DD), overrides backtest.end")
	backtestCmd.Flags().StringVarP(&btReport, "report", "r", "", "org report path, overrides backtest.report")
	backtestCmd.Flags().BoolVar(&btProgress, "progress", true, "show a progress bar")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if btStart != "" {
		cfg.Backtest.Start = btStart
	}
	if btEnd != "" {
		cfg.Backtest.End = btEnd
	}
	if btReport != "" {
		cfg.Backtest.Report = btReport
	}

	opts, err := cfg.BacktestOptions()
	if err != nil {
		return err
	}
	if btProgress {
		opts.Progress = cmd.ErrOrStderr()
	}

	ctx := cmd.Context()
	provider, calendar, dataset := backtestSource(cfg)
	procs, names, err := buildProcessors(cfg, provider)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	lc := cfg.LedgerSettings()
	lc.Logger = logger.L()
	bt := &engine.Backtest{
		Provider:   provider,
		Calendar:   calendar,
		Processors: procs,
		Store:      store,
		Ledger:     engine.NewLedger(opts.Cash, lc),
		Options:    opts,
		Logger:     logger.L(),
	}

	summary, runErr := bt.Run(ctx)
	if runErr != nil && summary.Days == 0 {
		return fmt.Errorf("backtest: %w", runErr)
	}

	report := summary.Report(names)
	report.RunID = id.New()
	report.Dataset = dataset
	if runErr != nil {
		report.Notes = append(report.Notes, "interrupted: "+runErr.Error())
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Days: %d  Trades: %d  Win rate: %.1f%%\n", report.Days, report.Trades, report.WinRate*100)
	fmt.Fprintf(out, "Equity: %.2f -> %.2f (%.2f%%)  Max DD: %.2f%%\n", report.StartEquity, report.EndEquity, report.ReturnPct, report.MaxDDPct)

	if cfg.Backtest.Report != "" {
		if err := report.WriteOrg(cfg.Backtest.Report); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report: %s\n", cfg.Backtest.Report)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "backtest interrupted:", runErr)
		return runErr
	}
	return nil
}
