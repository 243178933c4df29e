// Package exchange holds historical market data providers. Backtests only
// read candles, so the provider surface is fetch-only.
package exchange

import (
	"context"
	"time"

	"github.com/amirphl/staged-backtester/internal/candle"
)

// HistoricalDataProvider serves OHLCV history for a symbol and timeframe.
type HistoricalDataProvider interface {
	Name() string
	// FetchCandles returns candles in [start, end) ordered by timestamp.
	FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error)
}
