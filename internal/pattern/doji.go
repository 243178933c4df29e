package pattern

// Doji flags bars whose body is at most dojiBodyRatio of the range.
// Doji are direction-neutral, so matches are +1.
func Doji(open, high, low, close []float64) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		rng := high[i] - low[i]
		if rng <= 0 {
			continue
		}
		if body(open[i], close[i]) <= dojiBodyRatio*rng {
			out[i] = 1
		}
	}
	return out
}
