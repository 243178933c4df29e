package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/staged-backtester/internal/backtest"
	"github.com/amirphl/staged-backtester/internal/candle"
)

func testCandle(symbol string, ts time.Time, close float64) candle.Candle {
	return candle.Candle{
		Symbol:    symbol,
		Timeframe: "1h",
		Timestamp: ts,
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    100,
		Source:    "binance",
	}
}

func TestMemoryStorageCandleRoundTrip(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	candles := []candle.Candle{
		testCandle("BTCUSDT", base.Add(2*time.Hour), 102),
		testCandle("BTCUSDT", base, 100),
		testCandle("BTCUSDT", base.Add(time.Hour), 101),
		testCandle("ETHUSDT", base, 2000),
	}
	require.NoError(t, store.SaveCandles(ctx, candles))

	got, err := store.GetCandles(ctx, "BTCUSDT", "1h", "", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
	assert.True(t, got[1].Timestamp.Before(got[2].Timestamp))
	assert.Equal(t, 100.0, got[0].Close)

	// End bound is exclusive.
	got, err = store.GetCandles(ctx, "BTCUSDT", "1h", "", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	count, err := store.GetCandleCount(ctx, "ETHUSDT", "1h", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStorageSaveCandlesUpserts(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveCandles(ctx, []candle.Candle{testCandle("BTCUSDT", ts, 100)}))
	require.NoError(t, store.SaveCandles(ctx, []candle.Candle{testCandle("BTCUSDT", ts, 105)}))

	got, err := store.GetCandles(ctx, "BTCUSDT", "1h", "binance", ts, ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 105.0, got[0].Close)
}

func TestMemoryStorageSaveCandlesRejectsInvalid(t *testing.T) {
	store := NewMemoryStorage()
	bad := testCandle("BTCUSDT", time.Now(), 100)
	bad.Low = 200 // high < low

	err := store.SaveCandles(context.Background(), []candle.Candle{bad})
	assert.Error(t, err)
}

func TestMemoryStorageDeleteCandles(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveCandles(ctx, []candle.Candle{
		testCandle("BTCUSDT", base, 100),
		testCandle("BTCUSDT", base.Add(time.Hour), 101),
	}))
	require.NoError(t, store.DeleteCandles(ctx, "BTCUSDT", "1h", base.Add(time.Hour)))

	count, err := store.GetCandleCount(ctx, "BTCUSDT", "1h", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStorageResults(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	first := &backtest.Result{
		StrategyID:      "momentum-1",
		StrategyName:    "Momentum",
		InitialCapital:  10000,
		FinalCapital:    11000,
		TotalReturnRate: 10,
		FinishedAt:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	second := &backtest.Result{
		StrategyID:   "meanrev-1",
		StrategyName: "Mean Reversion",
		FinalCapital: 9500,
		FinishedAt:   time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	}

	id1, err := store.SaveBacktestResult(ctx, first)
	require.NoError(t, err)
	id2, err := store.SaveBacktestResult(ctx, second)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	got, err := store.GetBacktestResult(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "momentum-1", got.StrategyID)
	assert.Equal(t, 11000.0, got.FinalCapital)

	// Stored copy is insulated from caller mutation.
	first.FinalCapital = 0
	got, err = store.GetBacktestResult(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 11000.0, got.FinalCapital)

	_, err = store.GetBacktestResult(ctx, 999)
	assert.Error(t, err)

	all, err := store.ListBacktestResults(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, id2, all[0].ID) // newest first

	filtered, err := store.ListBacktestResults(ctx, "momentum-1", 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Momentum", filtered[0].StrategyName)
}
