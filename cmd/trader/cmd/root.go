package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/stocktrader/config"
	"github.com/rustyeddy/stocktrader/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Automated equity trading on 5-minute checkpoints",
	Long: `Trader runs pluggable processors against US equities every five
minutes of the regular session.

It provides tools for:
  - Backtesting processors over historical bars
  - Trading a live or paper account through Alpaca
  - Querying the transaction journal

Secrets are read from TRADER_* environment variables, e.g.
TRADER_ALPACA_KEY_ID and TRADER_ALPACA_SECRET_KEY.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetLevel(logLevel)
	},
}

var (
	cfgFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults plus TRADER_* env when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

// loadConfig reads --config, or falls back to the defaults with
// environment overrides.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromFile(cfgFile)
	}
	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
