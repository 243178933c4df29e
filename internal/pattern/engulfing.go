package pattern

// Engulfing flags bars whose body engulfs the prior bar's body and
// reverses its direction: +1 bullish, -1 bearish.
func Engulfing(open, close []float64) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := 1; i < n; i++ {
		prevBull := close[i-1] > open[i-1]
		currBull := close[i] > open[i]

		if currBull && !prevBull && open[i] <= close[i-1] && close[i] >= open[i-1] {
			out[i] = 1
		} else if !currBull && prevBull && open[i] >= close[i-1] && close[i] <= open[i-1] {
			out[i] = -1
		}
	}
	return out
}
