package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/stocktrader/engine"
	"github.com/rustyeddy/stocktrader/internal/retry"
	"github.com/rustyeddy/stocktrader/market"
)

// DateLayout is the format of backtest start and end dates.
const DateLayout = "2006-01-02"

// Config represents the complete trader configuration
type Config struct {
	Account    AccountConfig     `json:"account" yaml:"account"`
	Backtest   BacktestConfig    `json:"backtest" yaml:"backtest"`
	Live       LiveConfig        `json:"live" yaml:"live"`
	Retry      RetryConfig       `json:"retry" yaml:"retry"`
	Ledger     LedgerConfig      `json:"ledger" yaml:"ledger"`
	Processors []ProcessorConfig `json:"processors" yaml:"processors"`
	Journal    JournalConfig     `json:"journal" yaml:"journal"`
	Alpaca     AlpacaConfig      `json:"alpaca" yaml:"alpaca"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	Cash        float64 `json:"cash" yaml:"cash"`
	CashReserve float64 `json:"cash_reserve" yaml:"cash_reserve"`
}

// BacktestConfig contains the replay window and data source
type BacktestConfig struct {
	Start        string `json:"start" yaml:"start"`
	End          string `json:"end" yaml:"end"`
	Source       string `json:"source" yaml:"source"` // "csv" or "alpaca"
	DataDir      string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	Workers      int    `json:"workers" yaml:"workers"`
	LookbackDays int    `json:"lookback_days" yaml:"lookback_days"`
	Report       string `json:"report,omitempty" yaml:"report,omitempty"`
}

// LiveConfig contains live session parameters
type LiveConfig struct {
	Broker             string `json:"broker" yaml:"broker"` // "paper" or "alpaca"
	Workers            int    `json:"workers" yaml:"workers"`
	PollInterval       string `json:"poll_interval" yaml:"poll_interval"`
	TriggerSecond      int    `json:"trigger_second" yaml:"trigger_second"`
	CloseTriggerSecond int    `json:"close_trigger_second" yaml:"close_trigger_second"`
	MaxEarly           string `json:"max_early" yaml:"max_early"`
	LookbackDays       int    `json:"lookback_days" yaml:"lookback_days"`
	LogPath            string `json:"log_path,omitempty" yaml:"log_path,omitempty"`
}

// RetryConfig controls broker retries and fill polling
type RetryConfig struct {
	Attempts    int     `json:"attempts" yaml:"attempts"`
	Base        string  `json:"base" yaml:"base"`
	Factor      float64 `json:"factor" yaml:"factor"`
	Max         string  `json:"max" yaml:"max"`
	FillTimeout string  `json:"fill_timeout" yaml:"fill_timeout"`
	FillPoll    string  `json:"fill_poll" yaml:"fill_poll"`
}

// LedgerConfig contains sizing and simulated fill parameters
type LedgerConfig struct {
	ShortReserveRatio float64 `json:"short_reserve_ratio" yaml:"short_reserve_ratio"`
	MinOpenFraction   float64 `json:"min_open_fraction" yaml:"min_open_fraction"`
	Spread            float64 `json:"spread" yaml:"spread"`
}

// ProcessorConfig names a registered processor and its parameters
type ProcessorConfig struct {
	Name      string         `json:"name" yaml:"name"`
	OutputDir string         `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // "csv", "sqlite" or "postgres"
	Dir         string `json:"dir,omitempty" yaml:"dir,omitempty"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	PostgresURL string `json:"postgres_url,omitempty" yaml:"postgres_url,omitempty"`
}

// AlpacaConfig holds broker credentials. Keys normally come from the
// environment.
type AlpacaConfig struct {
	KeyID      string `json:"key_id,omitempty" yaml:"key_id,omitempty"`
	SecretKey  string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	TradingURL string `json:"trading_url,omitempty" yaml:"trading_url,omitempty"`
	DataURL    string `json:"data_url,omitempty" yaml:"data_url,omitempty"`
	Feed       string `json:"feed,omitempty" yaml:"feed,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML or JSON), applies
// environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	cfg.Processors = nil

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration as YAML for .yaml/.yml paths and JSON
// otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and deployment settings from TRADER_*
// environment variables.
func (c *Config) ApplyEnv() {
	v := viper.New()
	v.SetEnvPrefix("TRADER")
	for _, key := range []string{
		"alpaca_key_id", "alpaca_secret_key", "alpaca_trading_url", "alpaca_data_url", "alpaca_feed",
		"cash_reserve", "journal_type", "postgres_url", "live_broker",
	} {
		_ = v.BindEnv(key)
	}

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("alpaca_key_id", &c.Alpaca.KeyID)
	str("alpaca_secret_key", &c.Alpaca.SecretKey)
	str("alpaca_trading_url", &c.Alpaca.TradingURL)
	str("alpaca_data_url", &c.Alpaca.DataURL)
	str("alpaca_feed", &c.Alpaca.Feed)
	str("journal_type", &c.Journal.Type)
	str("postgres_url", &c.Journal.PostgresURL)
	str("live_broker", &c.Live.Broker)
	if v.IsSet("cash_reserve") {
		c.Account.CashReserve = v.GetFloat64("cash_reserve")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Cash <= 0 {
		return fmt.Errorf("account.cash must be positive")
	}
	if c.Account.CashReserve < 0 {
		return fmt.Errorf("account.cash_reserve must not be negative")
	}

	if _, _, err := c.BacktestRange(); err != nil {
		return err
	}
	switch c.Backtest.Source {
	case "csv":
		if c.Backtest.DataDir == "" {
			return fmt.Errorf("backtest.data_dir required for csv source")
		}
	case "alpaca":
	default:
		return fmt.Errorf("backtest.source must be 'csv' or 'alpaca'")
	}

	if c.Live.Broker != "paper" && c.Live.Broker != "alpaca" {
		return fmt.Errorf("live.broker must be 'paper' or 'alpaca'")
	}
	if c.Live.TriggerSecond < 0 || c.Live.TriggerSecond > 59 || c.Live.CloseTriggerSecond < 0 || c.Live.CloseTriggerSecond > 59 {
		return fmt.Errorf("live trigger seconds must be between 0 and 59")
	}
	if _, err := c.LiveOptions(); err != nil {
		return err
	}

	if c.Ledger.ShortReserveRatio < 0 || c.Ledger.MinOpenFraction < 0 || c.Ledger.Spread < 0 {
		return fmt.Errorf("ledger values must not be negative")
	}

	if len(c.Processors) == 0 {
		return fmt.Errorf("at least one processor is required")
	}
	seen := map[string]bool{}
	for i, p := range c.Processors {
		if p.Name == "" {
			return fmt.Errorf("processors[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("processor %q configured twice", p.Name)
		}
		seen[p.Name] = true
	}

	switch c.Journal.Type {
	case "csv":
		if c.Journal.Dir == "" {
			return fmt.Errorf("journal dir required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.PostgresURL == "" {
			return fmt.Errorf("journal postgres_url required for Postgres type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'postgres'")
	}

	if (c.Backtest.Source == "alpaca" || c.Live.Broker == "alpaca") && (c.Alpaca.KeyID == "" || c.Alpaca.SecretKey == "") {
		return fmt.Errorf("alpaca key_id and secret_key are required (set TRADER_ALPACA_KEY_ID and TRADER_ALPACA_SECRET_KEY)")
	}
	return nil
}

// BacktestRange parses the backtest dates in New York time. Both may be
// empty when only live trading is configured.
func (c *Config) BacktestRange() (start, end time.Time, err error) {
	if c.Backtest.Start == "" && c.Backtest.End == "" {
		return time.Time{}, time.Time{}, nil
	}
	if start, err = time.ParseInLocation(DateLayout, c.Backtest.Start, market.NewYork); err != nil {
		return start, end, fmt.Errorf("backtest.start: %w", err)
	}
	if end, err = time.ParseInLocation(DateLayout, c.Backtest.End, market.NewYork); err != nil {
		return start, end, fmt.Errorf("backtest.end: %w", err)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("backtest.end is before backtest.start")
	}
	return start, end, nil
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() (retry.Policy, error) {
	p := retry.Default()
	if c.Retry.Attempts < 0 {
		return p, fmt.Errorf("retry.attempts must not be negative")
	}
	if c.Retry.Attempts > 0 {
		p.Attempts = c.Retry.Attempts
	}
	if c.Retry.Factor > 0 {
		p.Factor = c.Retry.Factor
	}
	var err error
	if p.Base, err = duration("retry.base", c.Retry.Base, p.Base); err != nil {
		return p, err
	}
	if p.Max, err = duration("retry.max", c.Retry.Max, p.Max); err != nil {
		return p, err
	}
	return p, nil
}

// LiveOptions converts the live, retry and account sections.
func (c *Config) LiveOptions() (engine.LiveOptions, error) {
	o := engine.DefaultLiveOptions()
	var err error
	if o.Retry, err = c.RetryPolicy(); err != nil {
		return o, err
	}
	if o.PollInterval, err = duration("live.poll_interval", c.Live.PollInterval, o.PollInterval); err != nil {
		return o, err
	}
	if o.MaxEarly, err = duration("live.max_early", c.Live.MaxEarly, o.MaxEarly); err != nil {
		return o, err
	}
	if o.FillTimeout, err = duration("retry.fill_timeout", c.Retry.FillTimeout, o.FillTimeout); err != nil {
		return o, err
	}
	if o.FillPoll, err = duration("retry.fill_poll", c.Retry.FillPoll, o.FillPoll); err != nil {
		return o, err
	}
	if c.Live.Workers > 0 {
		o.Workers = c.Live.Workers
	}
	if c.Live.TriggerSecond > 0 {
		o.TriggerSecond = c.Live.TriggerSecond
	}
	if c.Live.CloseTriggerSecond > 0 {
		o.CloseTriggerSecond = c.Live.CloseTriggerSecond
	}
	if c.Live.LookbackDays > 0 {
		o.LookbackDays = c.Live.LookbackDays
	}
	o.CashReserve = c.Account.CashReserve
	o.LogPath = c.Live.LogPath
	return o, nil
}

// BacktestOptions converts the backtest and account sections.
func (c *Config) BacktestOptions() (engine.BacktestOptions, error) {
	start, end, err := c.BacktestRange()
	if err != nil {
		return engine.BacktestOptions{}, err
	}
	if start.IsZero() {
		return engine.BacktestOptions{}, fmt.Errorf("backtest.start and backtest.end are required")
	}
	return engine.BacktestOptions{
		Start:        start,
		End:          end,
		Cash:         c.Account.Cash,
		Workers:      c.Backtest.Workers,
		LookbackDays: c.Backtest.LookbackDays,
	}, nil
}

// LedgerSettings is the backtest ledger configuration.
func (c *Config) LedgerSettings() engine.LedgerConfig {
	lc := engine.DefaultLedgerConfig()
	if c.Ledger.ShortReserveRatio > 0 {
		lc.ShortReserveRatio = c.Ledger.ShortReserveRatio
	}
	if c.Ledger.MinOpenFraction > 0 {
		lc.MinOpenFraction = c.Ledger.MinOpenFraction
	}
	if c.Ledger.Spread > 0 {
		lc.Executor = engine.SimExecutor{Spread: c.Ledger.Spread}
	}
	lc.CashReserve = c.Account.CashReserve
	return lc
}

func duration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{Cash: 100000},
		Backtest: BacktestConfig{
			Source:       "csv",
			DataDir:      "./data",
			Workers:      engine.BacktestWorkers,
			LookbackDays: 365,
			Report:       "./backtest.org",
		},
		Live: LiveConfig{
			Broker:             "paper",
			Workers:            engine.LiveWorkers,
			PollInterval:       "1s",
			TriggerSecond:      engine.TriggerSecond,
			CloseTriggerSecond: engine.CloseTriggerSecond,
			MaxEarly:           "1h",
			LookbackDays:       365,
		},
		Retry: RetryConfig{
			Attempts:    3,
			Base:        "1s",
			Factor:      2,
			Max:         "10s",
			FillTimeout: "10s",
			FillPoll:    "2s",
		},
		Ledger: LedgerConfig{
			ShortReserveRatio: engine.ShortReserveRatio,
			MinOpenFraction:   engine.MinOpenFraction,
			Spread:            engine.BidAskSpread,
		},
		Processors: []ProcessorConfig{
			{Name: "noop", Params: map[string]any{"symbols": []string{"SPY"}}},
		},
		Journal: JournalConfig{
			Type: "csv",
			Dir:  "./journal",
		},
		Alpaca: AlpacaConfig{Feed: "iex"},
	}
}
