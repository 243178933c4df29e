package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amirphl/staged-backtester/internal/backtest"
)

func TestFormatRunSummary(t *testing.T) {
	result := &backtest.Result{
		StrategyID:      "rsi-dip",
		StrategyName:    "RSI Dip Buyer",
		InitialCapital:  1000,
		FinalCapital:    1150,
		TotalReturnRate: 15,
		MaxDrawdown:     4.2,
		WinRate:         62.5,
		Trades:          make([]backtest.Trade, 8),
	}

	msg := FormatRunSummary(result)
	assert.Contains(t, msg, "RSI Dip Buyer (rsi-dip)")
	assert.Contains(t, msg, "1000.00 -> 1150.00 (15.00%)")
	assert.Contains(t, msg, "Max drawdown: 4.20%")
	assert.Contains(t, msg, "Trades: 8, win rate: 62.5%")
	assert.NotContains(t, msg, "Warnings")

	result.Warnings = []string{"BTCUSDT: insufficient data"}
	assert.Contains(t, FormatRunSummary(result), "Warnings: 1")
}
