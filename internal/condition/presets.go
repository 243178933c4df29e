package condition

import (
	"math"
	"strings"

	"github.com/amirphl/staged-backtester/internal/indicator"
	"github.com/amirphl/staged-backtester/internal/strategy"
)

// Fixed preset thresholds. Each preset is a documented, testable
// behavior bound to one indicator family.
const (
	rsiOversold      = 30
	rsiOverbought    = 70
	stochOversold    = 20
	stochOverbought  = 80
	cciOversold      = -100
	cciOverbought    = 100
	willrOversold    = -80
	willrOverbought  = -20
	adxTrendingLevel = 25
	squeezeWidth     = 0.05 // (upper-lower)/middle below this is a squeeze
)

// evalPreset dispatches the named preset operators. The condition's
// Indicator field names the anchor column of the family (e.g. the rsi
// column for oversold, the bb_upper column for band presets); sibling
// lines are derived from the resolved anchor name.
func (e *Evaluator) evalPreset(row, prev indicator.Row, cond strategy.Condition) bool {
	switch cond.Operator {
	case "oversold":
		return e.below(row, cond.Indicator, rsiOversold)
	case "overbought":
		return e.above(row, cond.Indicator, rsiOverbought)
	case "stoch_oversold":
		return e.below(row, cond.Indicator, stochOversold)
	case "stoch_overbought":
		return e.above(row, cond.Indicator, stochOverbought)
	case "macd_bullish":
		return e.above(row, cond.Indicator, 0)
	case "macd_bearish":
		return e.below(row, cond.Indicator, 0)
	case "cci_oversold":
		return e.below(row, cond.Indicator, cciOversold)
	case "cci_overbought":
		return e.above(row, cond.Indicator, cciOverbought)
	case "willr_oversold":
		return e.below(row, cond.Indicator, willrOversold)
	case "willr_overbought":
		return e.above(row, cond.Indicator, willrOverbought)
	case "adx_trending":
		return e.above(row, cond.Indicator, adxTrendingLevel)
	case "psar_bullish", "psar_bearish":
		close, okC := row.Value("close")
		psar, okP := e.resolve(row, cond.Indicator)
		if !okC || !okP || math.IsNaN(close) || math.IsNaN(psar) {
			return false
		}
		if cond.Operator == "psar_bullish" {
			return close > psar
		}
		return close < psar
	case "above_cloud", "below_cloud":
		return e.evalCloud(row, cond)
	case "band_squeeze", "band_breakout_upper", "band_breakout_lower":
		return e.evalBands(row, cond)
	}
	return false
}

func (e *Evaluator) above(row indicator.Row, ref string, threshold float64) bool {
	v, ok := e.resolve(row, ref)
	return ok && !math.IsNaN(v) && v > threshold
}

func (e *Evaluator) below(row indicator.Row, ref string, threshold float64) bool {
	v, ok := e.resolve(row, ref)
	return ok && !math.IsNaN(v) && v < threshold
}

// evalCloud checks close against both senkou spans. The condition
// references the senkou A column; span B is its sibling.
func (e *Evaluator) evalCloud(row indicator.Row, cond strategy.Condition) bool {
	close, ok := row.Value("close")
	if !ok || math.IsNaN(close) {
		return false
	}
	senkouA, ok := e.resolve(row, cond.Indicator)
	if !ok || math.IsNaN(senkouA) {
		return false
	}
	senkouB, ok := e.resolve(row, strings.Replace(cond.Indicator, "senkou_a", "senkou_b", 1))
	if !ok || math.IsNaN(senkouB) {
		return false
	}
	if cond.Operator == "above_cloud" {
		return close > math.Max(senkouA, senkouB)
	}
	return close < math.Min(senkouA, senkouB)
}

// evalBands checks Bollinger presets. The condition references the
// bb_upper column; middle and lower are its siblings.
func (e *Evaluator) evalBands(row indicator.Row, cond strategy.Condition) bool {
	upperRef := cond.Indicator
	if strings.Contains(upperRef, "bb_lower") {
		upperRef = strings.Replace(upperRef, "bb_lower", "bb_upper", 1)
	}
	upper, okU := e.resolve(row, upperRef)
	middle, okM := e.resolve(row, strings.Replace(upperRef, "bb_upper", "bb_middle", 1))
	lower, okL := e.resolve(row, strings.Replace(upperRef, "bb_upper", "bb_lower", 1))
	close, okC := row.Value("close")
	if !okU || !okM || !okL || !okC ||
		math.IsNaN(upper) || math.IsNaN(middle) || math.IsNaN(lower) || math.IsNaN(close) {
		return false
	}

	switch cond.Operator {
	case "band_squeeze":
		if middle == 0 {
			return false
		}
		return (upper-lower)/middle < squeezeWidth
	case "band_breakout_upper":
		return close > upper
	case "band_breakout_lower":
		return close < lower
	}
	return false
}
