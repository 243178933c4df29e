package db

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/staged-backtester/internal/backtest"
	"github.com/amirphl/staged-backtester/internal/candle"
	dbconf "github.com/amirphl/staged-backtester/internal/db/conf"
)

// newTestPostgres provisions a throwaway database and applies the schema.
// Skips when Postgres is not reachable.
func newTestPostgres(t *testing.T) (*Postgres, func()) {
	cfg, cleanup := dbconf.NewTestConfig(t)
	require.NotNil(t, cfg)

	pg := NewPostgresFromDB(cfg.DB)
	require.NoError(t, pg.EnsureSchema(context.Background()))
	return pg, cleanup
}

func TestPostgresCandleRoundTrip(t *testing.T) {
	pg, cleanup := newTestPostgres(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	candles := []candle.Candle{
		testCandle("BTCUSDT", base, 100),
		testCandle("BTCUSDT", base.Add(time.Hour), 101),
		testCandle("ETHUSDT", base, 2000),
	}
	require.NoError(t, pg.SaveCandles(ctx, candles))

	got, err := pg.GetCandles(ctx, "BTCUSDT", "1h", "", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100.0, got[0].Close)
	assert.Equal(t, 101.0, got[1].Close)
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())

	count, err := pg.GetCandleCount(ctx, "BTCUSDT", "1h", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresSaveCandlesUpserts(t *testing.T) {
	pg, cleanup := newTestPostgres(t)
	defer cleanup()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, pg.SaveCandles(ctx, []candle.Candle{testCandle("BTCUSDT", ts, 100)}))
	require.NoError(t, pg.SaveCandles(ctx, []candle.Candle{testCandle("BTCUSDT", ts, 105)}))

	got, err := pg.GetCandles(ctx, "BTCUSDT", "1h", "binance", ts, ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 105.0, got[0].Close)
}

func TestPostgresDeleteCandles(t *testing.T) {
	pg, cleanup := newTestPostgres(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, pg.SaveCandles(ctx, []candle.Candle{
		testCandle("BTCUSDT", base, 100),
		testCandle("BTCUSDT", base.Add(time.Hour), 101),
	}))
	require.NoError(t, pg.DeleteCandles(ctx, "BTCUSDT", "1h", base.Add(time.Hour)))

	count, err := pg.GetCandleCount(ctx, "BTCUSDT", "1h", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresBacktestResults(t *testing.T) {
	pg, cleanup := newTestPostgres(t)
	defer cleanup()
	ctx := context.Background()

	result := &backtest.Result{
		StrategyID:      "momentum-1",
		StrategyName:    "Momentum",
		Allocation:      "shared",
		InitialCapital:  10000,
		FinalCapital:    11250,
		TotalReturn:     1250,
		TotalReturnRate: 12.5,
		MaxDrawdown:     4.2,
		WinRate:         60,
		Trades: []backtest.Trade{{
			ID: 1, Instrument: "BTCUSDT", Side: "buy",
			Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
		Metrics:    map[string]float64{"trades": 1},
		FinishedAt: time.Now().UTC(),
	}

	id, err := pg.SaveBacktestResult(ctx, result)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	got, err := pg.GetBacktestResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "momentum-1", got.StrategyID)
	assert.Equal(t, 11250.0, got.FinalCapital)
	require.Len(t, got.Trades, 1)
	assert.Equal(t, "BTCUSDT", got.Trades[0].Instrument)

	_, err = pg.GetBacktestResult(ctx, id+1000)
	assert.Error(t, err)

	summaries, err := pg.ListBacktestResults(ctx, "momentum-1", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, id, summaries[0].ID)
	assert.Equal(t, 12.5, summaries[0].TotalReturnRate)
}

func TestPostgresContextTransaction(t *testing.T) {
	pg, cleanup := newTestPostgres(t)
	defer cleanup()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tx, err := pg.GetDB().Begin()
	require.NoError(t, err)
	txCtx := WithTransaction(ctx, tx)

	require.NoError(t, pg.SaveCandles(txCtx, []candle.Candle{testCandle("BTCUSDT", ts, 100)}))
	require.NoError(t, tx.Rollback())

	// Rolled-back writes must not be visible outside the transaction.
	count, err := pg.GetCandleCount(ctx, "BTCUSDT", "1h", ts, ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
