// Package pattern detects candlestick patterns over parallel OHLC
// slices. Each detector returns one value per bar: +1 bullish, -1
// bearish, 0 no pattern, so outputs plug into the indicator column
// model and can be referenced by strategy conditions.
package pattern

import "math"

const (
	// dojiBodyRatio bounds the body relative to the bar range.
	dojiBodyRatio = 0.1
	// shadowBodyFactor is the minimum dominant-shadow-to-body ratio for
	// hammers and shooting stars.
	shadowBodyFactor = 2.0
	// starBodyRatio bounds the middle bar's body in a star formation.
	starBodyRatio = 0.3
)

func body(open, close float64) float64 {
	return math.Abs(close - open)
}

func bodyRatio(open, high, low, close float64) float64 {
	rng := high - low
	if rng <= 0 {
		return 0
	}
	return body(open, close) / rng
}
