package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocktrader/journal"
	"github.com/rustyeddy/stocktrader/market"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the transaction journal",
	Long: `Query and display transactions from a SQLite journal.

Subcommands:
  show   - Details of one transaction by ID
  today  - Transactions closed today
  day    - Transactions closed on a given day
  summary - Daily per-processor rollups in a date range

Examples:
  trader journal show 01HN3Q...
  trader journal day 2024-01-15
  trader journal summary 2024-01-01 2024-01-31`,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <transaction-id>",
	Short: "Show one transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalShow,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List transactions closed today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDay(cmd, time.Now().In(market.NewYork).Format("2006-01-02"))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List transactions closed on a day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDay(cmd, args[0])
	},
}

var journalSummaryCmd = &cobra.Command{
	Use:   "summary <YYYY-MM-DD> <YYYY-MM-DD>",
	Short: "Show daily rollups per processor",
	Args:  cobra.ExactArgs(2),
	RunE:  runJournalSummary,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalShowCmd, journalTodayCmd, journalDayCmd, journalSummaryCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default journal.db_path)")
}

func openJournal() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Journal.DBPath
	}
	if path == "" {
		return nil, fmt.Errorf("no journal database: pass --db or set journal.db_path")
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	t, err := j.GetTransaction(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTransactionOrg(t))
	return nil
}

func listDay(cmd *cobra.Command, day string) error {
	start, end, err := dayBounds(day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	txns, err := j.ListTransactionsClosedBetween(cmd.Context(), start, end)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTransactionsOrg(txns))
	return nil
}

func runJournalSummary(cmd *cobra.Command, args []string) error {
	start, _, err := dayBounds(args[0])
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, _, err := dayBounds(args[1])
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	aggs, err := j.ListAggregations(cmd.Context(), start, end)
	if err != nil {
		return fmt.Errorf("query aggregations: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "| date | processor | trades | wins | losses | gl | avg gl % |")
	fmt.Fprintln(out, "|------+-----------+--------+------+--------+----+----------|")
	for _, a := range aggs {
		fmt.Fprintf(out, "| %s | %s | %d | %d | %d | %.2f | %.2f |\n",
			a.Date, a.Processor, a.Count, a.WinCount, a.LoseCount, a.GL, a.AvgGLPct*100)
	}
	return nil
}

// dayBounds is the New York calendar day [start, end).
func dayBounds(day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, market.NewYork)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return t, t.AddDate(0, 0, 1), nil
}
