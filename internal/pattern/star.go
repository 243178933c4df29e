package pattern

// Star flags three-bar reversal formations: +1 morning star (bearish
// bar, gapped-down small body, bullish bar closing above the first
// bar's body midpoint), -1 evening star (the mirror image).
func Star(open, high, low, close []float64) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := 2; i < n; i++ {
		firstBull := close[i-2] > open[i-2]
		thirdBull := close[i] > open[i]
		if bodyRatio(open[i-1], high[i-1], low[i-1], close[i-1]) > starBodyRatio {
			continue
		}
		firstMid := (open[i-2] + close[i-2]) / 2

		// Morning star: down bar, star gaps below its low, up bar
		// recovers past the midpoint.
		if !firstBull && thirdBull && high[i-1] < low[i-2] && close[i] > firstMid {
			out[i] = 1
			continue
		}
		// Evening star: up bar, star gaps above its high, down bar
		// breaks below the midpoint.
		if firstBull && !thirdBull && low[i-1] > high[i-2] && close[i] < firstMid {
			out[i] = -1
		}
	}
	return out
}
