// Package config
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

/*
YAML config example:
db_conn_str: "host=localhost port=5432 user=postgres dbname=backtester sslmode=disable"
storage: "postgres"
provider: "binance"
strategy_dir: "strategies"
strategy_ids: ["momentum-1"]
symbols: ["BTC-USDT", "ETH-USDT"]
timeframe: "1h"
from: "2023-01-01"
to: "2024-01-01"
initial_capital: 10000
commission_percent: 0.1
slippage_percent: 0.05
allocation: "isolated"
*/

type Config struct {
	// Storage selects the candle backend: postgres, clickhouse or memory.
	Storage      string `yaml:"storage"`
	DBConnStr    string `yaml:"db_conn_str"`
	ClickHouse   string `yaml:"clickhouse_addr"`
	ClickHouseDB string `yaml:"clickhouse_db"`

	// Provider selects the download source: binance or wallex.
	Provider     string `yaml:"provider"`
	WallexAPIKey string `yaml:"wallex_api_key"`
	ProxyURL     string `yaml:"proxy_url"`

	StrategyDir string   `yaml:"strategy_dir"`
	StrategyIDs []string `yaml:"strategy_ids"`
	Symbols     []string `yaml:"symbols"`
	Timeframe   string   `yaml:"timeframe"`

	From time.Time `yaml:"-"`
	To   time.Time `yaml:"-"`
	// FromStr and ToStr carry the YAML form; From/To hold the parsed dates.
	FromStr string `yaml:"from"`
	ToStr   string `yaml:"to"`

	InitialCapital    float64 `yaml:"initial_capital"`
	CommissionPercent float64 `yaml:"commission_percent"`
	SlippagePercent   float64 `yaml:"slippage_percent"`
	Allocation        string  `yaml:"allocation"`

	StrictPreflight bool   `yaml:"strict_preflight"`
	OutputDir       string `yaml:"output_dir"`
	SaveCSV         bool   `yaml:"save_csv"`

	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`

	APIRetryMaxAttempts int           `yaml:"api_retry_max_attempts"`
	APIRetryBaseDelay   time.Duration `yaml:"api_retry_base_delay"`
	APIRetryMaxDelay    time.Duration `yaml:"api_retry_max_delay"`
}

// Load parses flags, optionally merges a YAML file, and validates the
// result. Flags win over file values for dates and lists when set.
func Load() (Config, error) {
	storage := flag.String("storage", "postgres", "Candle storage: postgres, clickhouse or memory")
	provider := flag.String("provider", "binance", "Historical data provider: binance or wallex")
	proxyURL := flag.String("proxy", "", "HTTP proxy URL for provider requests")
	strategyDir := flag.String("strategy-dir", "strategies", "Directory holding strategy YAML files")
	strategyIDs := flag.String("strategies", "", "Comma-separated strategy ids to run")
	symbolsFlag := flag.String("symbols", "BTC-USDT", "Comma-separated list of trading symbols")
	timeframe := flag.String("timeframe", "1h", "Candle timeframe")
	from := flag.String("from", time.Now().AddDate(-2, 0, 0).Format("2006-01-02"), "Backtest start date (YYYY-MM-DD)")
	to := flag.String("to", time.Now().Format("2006-01-02"), "Backtest end date (YYYY-MM-DD)")
	initialCapital := flag.Float64("capital", 10000, "Initial capital")
	commissionPercent := flag.Float64("commission-percent", 0.1, "Commission percent per trade (e.g., 0.1 for 0.1%)")
	slippagePercent := flag.Float64("slippage-percent", 0.05, "Slippage percent per trade (e.g., 0.05 for 0.05%)")
	allocation := flag.String("allocation", "isolated", "Capital allocation: shared or isolated")
	strictPreflight := flag.Bool("strict-preflight", false, "Treat preflight warnings as errors")
	outputDir := flag.String("output-dir", ".", "Directory for JSON/CSV exports")
	saveCSV := flag.Bool("save-csv", true, "Export trades and equity as CSV")
	telegramToken := flag.String("telegram-token", "", "Telegram bot token for notifications")
	telegramChatID := flag.String("telegram-chat", "", "Telegram chat ID for notifications")
	retryAttempts := flag.Int("api-retry-attempts", 3, "Provider download retry attempts")
	retryBaseDelay := flag.Duration("api-retry-base-delay", 2*time.Second, "Base delay between download retries")
	retryMaxDelay := flag.Duration("api-retry-max-delay", 30*time.Second, "Maximum delay between download retries")
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg := Config{
		Storage:             *storage,
		DBConnStr:           os.Getenv("DB_CONN_STR"),
		Provider:            *provider,
		WallexAPIKey:        os.Getenv("WALLEX_API_KEY"),
		ProxyURL:            *proxyURL,
		StrategyDir:         *strategyDir,
		StrategyIDs:         splitList(*strategyIDs),
		Symbols:             splitList(*symbolsFlag),
		Timeframe:           *timeframe,
		FromStr:             *from,
		ToStr:               *to,
		InitialCapital:      *initialCapital,
		CommissionPercent:   *commissionPercent,
		SlippagePercent:     *slippagePercent,
		Allocation:          *allocation,
		StrictPreflight:     *strictPreflight,
		OutputDir:           *outputDir,
		SaveCSV:             *saveCSV,
		TelegramToken:       *telegramToken,
		TelegramChatID:      *telegramChatID,
		APIRetryMaxAttempts: *retryAttempts,
		APIRetryBaseDelay:   *retryBaseDelay,
		APIRetryMaxDelay:    *retryMaxDelay,
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// finalize parses dates and applies defaults after flag/file merging.
func (c *Config) finalize() error {
	var err error
	c.From, err = time.Parse("2006-01-02", c.FromStr)
	if err != nil {
		return fmt.Errorf("invalid from date %q: %w", c.FromStr, err)
	}
	c.To, err = time.Parse("2006-01-02", c.ToStr)
	if err != nil {
		return fmt.Errorf("invalid to date %q: %w", c.ToStr, err)
	}
	if !c.From.Before(c.To) {
		return fmt.Errorf("from date %s must precede to date %s", c.FromStr, c.ToStr)
	}

	if c.APIRetryMaxAttempts <= 0 {
		c.APIRetryMaxAttempts = 3
	}
	if c.APIRetryBaseDelay <= 0 {
		c.APIRetryBaseDelay = 2 * time.Second
	}
	if c.APIRetryMaxDelay <= 0 {
		c.APIRetryMaxDelay = 30 * time.Second
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %f", c.InitialCapital)
	}

	switch c.Storage {
	case "postgres", "clickhouse", "memory":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage)
	}
	switch c.Provider {
	case "binance", "wallex":
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider)
	}
	switch c.Allocation {
	case "shared", "isolated":
	default:
		return fmt.Errorf("unsupported allocation mode: %s", c.Allocation)
	}

	if len(c.StrategyIDs) == 0 {
		return fmt.Errorf("at least one strategy id is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
