package condition

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/staged-backtester/internal/candle"
	"github.com/amirphl/staged-backtester/internal/indicator"
	"github.com/amirphl/staged-backtester/internal/strategy"
)

func testSeries(t *testing.T, closes []float64, computed map[string][]float64) *indicator.Series {
	t.Helper()
	candles := make([]candle.Candle, len(closes))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = candle.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
			Symbol: "BTCUSDT", Timeframe: "1h",
		}
	}
	s := indicator.NewSeries(candles)
	for name, vals := range computed {
		require.Len(t, vals, len(closes))
		s.SetColumn(name, vals)
	}
	return s
}

func fval(v float64) strategy.CompareTo {
	return strategy.CompareTo{Value: &v}
}

func TestEvaluateComparisons(t *testing.T) {
	s := testSeries(t, []float64{100, 105}, map[string][]float64{
		"rsi_14": {25, 35},
	})
	e := NewEvaluator()

	tests := []struct {
		name string
		cond strategy.Condition
		want bool
	}{
		{"greater true", strategy.Condition{Indicator: "rsi_14", Operator: ">", CompareTo: fval(30)}, true},
		{"greater false", strategy.Condition{Indicator: "rsi_14", Operator: ">", CompareTo: fval(40)}, false},
		{"less", strategy.Condition{Indicator: "rsi_14", Operator: "<", CompareTo: fval(40)}, true},
		{"greater equal boundary", strategy.Condition{Indicator: "rsi_14", Operator: ">=", CompareTo: fval(35)}, true},
		{"less equal boundary", strategy.Condition{Indicator: "rsi_14", Operator: "<=", CompareTo: fval(35)}, true},
		{"equal", strategy.Condition{Indicator: "rsi_14", Operator: "==", CompareTo: fval(35)}, true},
		{"close alias", strategy.Condition{Indicator: "close", Operator: ">", CompareTo: fval(100)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(s.At(1), s.At(0), tt.cond)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCrossover(t *testing.T) {
	// fast crosses above slow between bar 1 and bar 2, back below at bar 4
	s := testSeries(t, []float64{100, 100, 100, 100, 100}, map[string][]float64{
		"fast": {8, 10, 12, 12, 9},
		"slow": {10, 10, 10, 10, 10},
	})
	e := NewEvaluator()

	above := strategy.Condition{
		Indicator: "fast", Operator: strategy.OpCrossAbove,
		CompareTo: strategy.CompareTo{Indicator: "slow"},
	}
	below := strategy.Condition{
		Indicator: "fast", Operator: strategy.OpCrossBelow,
		CompareTo: strategy.CompareTo{Indicator: "slow"},
	}

	assert.False(t, e.Evaluate(s.At(1), s.At(0), above), "touching from below is not a cross yet")
	assert.True(t, e.Evaluate(s.At(2), s.At(1), above), "prev<=rhs && curr>rhs crosses")
	assert.False(t, e.Evaluate(s.At(3), s.At(2), above), "staying above is not a new cross")
	assert.True(t, e.Evaluate(s.At(4), s.At(3), below))

	// bar 0 has no previous row, crossovers fail closed
	assert.False(t, e.Evaluate(s.At(0), s.At(-1), above))
}

func TestEvaluateNaNFailsClosed(t *testing.T) {
	s := testSeries(t, []float64{100, 105}, map[string][]float64{
		"rsi_14": {math.NaN(), math.NaN()},
	})
	e := NewEvaluator()

	cond := strategy.Condition{Indicator: "rsi_14", Operator: "<", CompareTo: fval(30)}
	assert.False(t, e.Evaluate(s.At(1), s.At(0), cond))
}

func TestEvaluateUnresolvedReference(t *testing.T) {
	s := testSeries(t, []float64{100, 105}, nil)
	e := NewEvaluator()

	cond := strategy.Condition{Indicator: "nonexistent_9", Operator: ">", CompareTo: fval(0)}
	assert.False(t, e.Evaluate(s.At(1), s.At(0), cond))
	// second evaluation exercises the warn-once path
	assert.False(t, e.Evaluate(s.At(1), s.At(0), cond))
}

func TestResolveSuffixStripping(t *testing.T) {
	// a reference with an extra numeric suffix falls back to the bare column
	s := testSeries(t, []float64{100, 105}, map[string][]float64{
		"obv": {10, 20},
	})
	e := NewEvaluator()

	cond := strategy.Condition{Indicator: "obv_14", Operator: ">", CompareTo: fval(15)}
	assert.True(t, e.Evaluate(s.At(1), s.At(0), cond))

	// non-numeric suffixes are never stripped
	cond = strategy.Condition{Indicator: "obv_fast", Operator: ">", CompareTo: fval(15)}
	assert.False(t, e.Evaluate(s.At(1), s.At(0), cond))
}

func TestPresetThresholds(t *testing.T) {
	s := testSeries(t, []float64{100, 100}, map[string][]float64{
		"rsi_14":     {50, 25},
		"stoch_k":    {50, 85},
		"macd_hist":  {-1, 0.5},
		"cci_20":     {0, -150},
		"willr_14":   {-50, -85},
		"adx_14":     {10, 30},
		"psar_value": {99, 102},
	})
	e := NewEvaluator()

	tests := []struct {
		name      string
		indicator string
		operator  string
		want      bool
	}{
		{"oversold fires", "rsi_14", "oversold", true},
		{"overbought quiet", "rsi_14", "overbought", false},
		{"stoch overbought fires", "stoch_k", "stoch_overbought", true},
		{"stoch oversold quiet", "stoch_k", "stoch_oversold", false},
		{"macd bullish on positive hist", "macd_hist", "macd_bullish", true},
		{"macd bearish quiet", "macd_hist", "macd_bearish", false},
		{"cci oversold fires", "cci_20", "cci_oversold", true},
		{"willr oversold fires", "willr_14", "willr_oversold", true},
		{"willr overbought quiet", "willr_14", "willr_overbought", false},
		{"adx trending fires", "adx_14", "adx_trending", true},
		{"psar bearish when sar above close", "psar_value", "psar_bearish", true},
		{"psar bullish quiet", "psar_value", "psar_bullish", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := strategy.Condition{Indicator: tt.indicator, Operator: tt.operator}
			assert.Equal(t, tt.want, e.Evaluate(s.At(1), s.At(0), cond))
		})
	}
}

func TestPresetCloud(t *testing.T) {
	s := testSeries(t, []float64{100, 100}, map[string][]float64{
		"ichimoku_senkou_a_9_26_52": {90, 95},
		"ichimoku_senkou_b_9_26_52": {85, 98},
	})
	e := NewEvaluator()

	above := strategy.Condition{Indicator: "ichimoku_senkou_a_9_26_52", Operator: "above_cloud"}
	below := strategy.Condition{Indicator: "ichimoku_senkou_a_9_26_52", Operator: "below_cloud"}

	// close=100 > max(95, 98)
	assert.True(t, e.Evaluate(s.At(1), s.At(0), above))
	assert.False(t, e.Evaluate(s.At(1), s.At(0), below))
}

func TestPresetBands(t *testing.T) {
	s := testSeries(t, []float64{100, 103}, map[string][]float64{
		"bb_upper_20_2":  {105, 102},
		"bb_middle_20_2": {100, 100},
		"bb_lower_20_2":  {95, 98},
	})
	e := NewEvaluator()

	breakout := strategy.Condition{Indicator: "bb_upper_20_2", Operator: "band_breakout_upper"}
	assert.True(t, e.Evaluate(s.At(1), s.At(0), breakout), "close 103 above upper 102")
	assert.False(t, e.Evaluate(s.At(0), s.At(-1), breakout))

	squeeze := strategy.Condition{Indicator: "bb_upper_20_2", Operator: "band_squeeze"}
	// width (102-98)/100 = 0.04 < 0.05
	assert.True(t, e.Evaluate(s.At(1), s.At(0), squeeze))
	// width (105-95)/100 = 0.10
	assert.False(t, e.Evaluate(s.At(0), s.At(-1), squeeze))

	// anchoring a band preset on the lower column resolves the same family
	lowerAnchored := strategy.Condition{Indicator: "bb_lower_20_2", Operator: "band_squeeze"}
	assert.True(t, e.Evaluate(s.At(1), s.At(0), lowerAnchored))
}
