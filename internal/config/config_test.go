package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() Config {
	return Config{
		Storage:        "memory",
		Provider:       "binance",
		StrategyIDs:    []string{"momentum-1"},
		Symbols:        []string{"BTC-USDT"},
		Timeframe:      "1h",
		FromStr:        "2023-01-01",
		ToStr:          "2024-01-01",
		InitialCapital: 10000,
		Allocation:     "isolated",
	}
}

func TestFinalizeParsesDates(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.finalize())

	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.From)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.To)
	assert.Equal(t, 3, cfg.APIRetryMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.APIRetryBaseDelay)
}

func TestFinalizeValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad from date", func(c *Config) { c.FromStr = "01-01-2023" }},
		{"from after to", func(c *Config) { c.FromStr, c.ToStr = c.ToStr, c.FromStr }},
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }},
		{"unknown storage", func(c *Config) { c.Storage = "redis" }},
		{"unknown provider", func(c *Config) { c.Provider = "kraken" }},
		{"unknown allocation", func(c *Config) { c.Allocation = "pooled" }},
		{"no strategies", func(c *Config) { c.StrategyIDs = nil }},
		{"no symbols", func(c *Config) { c.Symbols = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.finalize())
		})
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	cfg := validConfig()
	data := []byte(`
storage: clickhouse
clickhouse_addr: "localhost:9000"
symbols: ["ETH-USDT", "SOL-USDT"]
commission_percent: 0.2
allocation: shared
`)
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	require.NoError(t, cfg.finalize())

	assert.Equal(t, "clickhouse", cfg.Storage)
	assert.Equal(t, "localhost:9000", cfg.ClickHouse)
	assert.Equal(t, []string{"ETH-USDT", "SOL-USDT"}, cfg.Symbols)
	assert.Equal(t, 0.2, cfg.CommissionPercent)
	assert.Equal(t, "shared", cfg.Allocation)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("a, b"))
	assert.Equal(t, []string{"a"}, splitList("a,"))
	assert.Nil(t, splitList(""))
}
