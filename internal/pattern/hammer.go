package pattern

import "math"

// Hammer flags small-body bars with one dominant shadow: +1 hammer
// (long lower shadow), -1 shooting star (long upper shadow).
func Hammer(open, high, low, close []float64) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := body(open[i], close[i])
		if b == 0 {
			continue
		}
		upper := high[i] - math.Max(open[i], close[i])
		lower := math.Min(open[i], close[i]) - low[i]

		if lower >= shadowBodyFactor*b && upper <= b {
			out[i] = 1
		} else if upper >= shadowBodyFactor*b && lower <= b {
			out[i] = -1
		}
	}
	return out
}
