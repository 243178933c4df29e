package exchange

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/staged-backtester/internal/candle"
	"github.com/amirphl/staged-backtester/internal/db"
)

func TestParseKlines(t *testing.T) {
	body := []byte(`[
		[1704067200000, "42000.5", "42100.0", "41900.0", "42050.0", "123.45", 1704070799999],
		[1704070800000, 42050.0, 42200.0, 42000.0, 42150.0, 98.7],
		[1704074400000, "42150.0"]
	]`)

	candles, err := parseKlines(body, "BTC-USDT", "1h")
	require.NoError(t, err)
	require.Len(t, candles, 2) // short entry skipped

	first := candles[0]
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, 42000.5, first.Open)
	assert.Equal(t, 42050.0, first.Close)
	assert.Equal(t, 123.45, first.Volume)
	assert.Equal(t, "BTC-USDT", first.Symbol)
	assert.Equal(t, "binance", first.Source)

	// Numeric fields accepted as raw floats too.
	assert.Equal(t, 42150.0, candles[1].Close)
}

func TestParseKlinesRejectsMalformedJSON(t *testing.T) {
	_, err := parseKlines([]byte(`{"code":-1121,"msg":"Invalid symbol."}`), "BTC-USDT", "1h")
	assert.Error(t, err)
}

func TestBinanceInterval(t *testing.T) {
	for _, tf := range []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"} {
		got, err := binanceInterval(tf)
		require.NoError(t, err)
		assert.Equal(t, tf, got)
	}
	_, err := binanceInterval("2h")
	assert.Error(t, err)
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	assert.True(t, isRetryableHTTPStatus(http.StatusTooManyRequests))
	assert.True(t, isRetryableHTTPStatus(http.StatusServiceUnavailable))
	assert.False(t, isRetryableHTTPStatus(http.StatusBadRequest))
	assert.False(t, isRetryableHTTPStatus(http.StatusNotFound))
}

func TestCalculateRetryDelayBounds(t *testing.T) {
	base := 2 * time.Second
	max := 15 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		delay := calculateRetryDelay(attempt, base, max, 2.0, 0.1)
		assert.Greater(t, delay, time.Duration(0))
		// Capped at max plus jitter headroom.
		assert.LessOrEqual(t, delay, max+max/5)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("btc-usdt"))
	assert.Equal(t, "ETHUSDT", NormalizeSymbol("ETH-USDT"))
}

func TestNormalizedTimeframe(t *testing.T) {
	assert.Equal(t, "5", NormalizedTimeframe("5m"))
	assert.Equal(t, "1h", NormalizedTimeframe("1h"))
}

func TestProcessCandlesFillsGaps(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(offset time.Duration, close float64) candle.Candle {
		return candle.Candle{
			Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: base.Add(offset),
			Open: close, High: close, Low: close, Close: close, Volume: 10, Source: "binance",
		}
	}

	// Hour 1 and 2 are missing; hour 3 present. Input unsorted.
	in := []candle.Candle{mk(3*time.Hour, 103), mk(0, 100)}
	out := ProcessCandles(in, "BTCUSDT", "1h", base, base.Add(24*time.Hour))

	require.Len(t, out, 4)
	assert.Equal(t, 100.0, out[0].Close)
	assert.Equal(t, "synthetic", out[1].Source)
	assert.Equal(t, 100.0, out[1].Close) // carries previous close
	assert.Equal(t, 0.0, out[1].Volume)
	assert.Equal(t, "synthetic", out[2].Source)
	assert.Equal(t, 103.0, out[3].Close)
}

func TestProcessCandlesTrimsAndAligns(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []candle.Candle{
		{Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: base.Add(-time.Hour),
			Open: 99, High: 99, Low: 99, Close: 99, Volume: 1},
		{Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: base.Add(30 * time.Minute), // aligns to base
			Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
	}

	out := ProcessCandles(in, "BTCUSDT", "1h", base, base.Add(24*time.Hour))
	require.Len(t, out, 1)
	assert.Equal(t, base, out[0].Timestamp)
	assert.Equal(t, 100.0, out[0].Close)
}

// fakeProvider serves a fixed candle set and counts calls.
type fakeProvider struct {
	candles []candle.Candle
	calls   int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	f.calls++
	var out []candle.Candle
	for _, c := range f.candles {
		if !c.Timestamp.Before(start) && c.Timestamp.Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestLoaderDownloadsOnlyWhenStoreIsShort(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []candle.Candle
	for i := 0; i < 24; i++ {
		bars = append(bars, candle.Candle{
			Symbol: "BTCUSDT", Timeframe: "1h", Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Source: "fake",
		})
	}

	store := db.NewMemoryStorage()
	provider := &fakeProvider{candles: bars}
	loader := NewLoader(store, provider)
	loader.RateLimit = time.Millisecond

	ctx := context.Background()
	got, err := loader.LoadCandles(ctx, "BTCUSDT", "1h", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 24)
	assert.Greater(t, provider.calls, 0)

	// Second load is served from the store.
	calls := provider.calls
	got, err = loader.LoadCandles(ctx, "BTCUSDT", "1h", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 24)
	assert.Equal(t, calls, provider.calls)
}

func TestLoaderErrorsWhenProviderEmpty(t *testing.T) {
	store := db.NewMemoryStorage()
	loader := NewLoader(store, &fakeProvider{})
	loader.RateLimit = time.Millisecond

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := loader.LoadCandles(context.Background(), "BTCUSDT", "1h", base, base.Add(24*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candles available")
}

func TestLoaderInvalidTimeframe(t *testing.T) {
	loader := NewLoader(db.NewMemoryStorage(), &fakeProvider{})
	_, err := loader.LoadCandles(context.Background(), "BTCUSDT", "2h", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("invalid timeframe: %s", "2h"), err.Error())
}
