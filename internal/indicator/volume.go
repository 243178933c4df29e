package indicator

// CalculateOBV computes On-Balance Volume: a running total of volume,
// added on up-closes and subtracted on down-closes.
func CalculateOBV(close, volume []float64) []float64 {
	n := len(close)
	if n == 0 {
		return nil
	}
	out := make([]float64, n)
	out[0] = 0
	for i := 1; i < n; i++ {
		switch {
		case close[i] > close[i-1]:
			out[i] = out[i-1] + volume[i]
		case close[i] < close[i-1]:
			out[i] = out[i-1] - volume[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// CalculateVWAP computes the cumulative volume-weighted average price
// over the whole series, using typical price. Zero cumulative volume
// falls back to the typical price itself.
func CalculateVWAP(high, low, close, volume []float64) []float64 {
	n := len(close)
	if n == 0 {
		return nil
	}
	out := make([]float64, n)
	var cumPV, cumVol float64
	for i := 0; i < n; i++ {
		tp := (high[i] + low[i] + close[i]) / 3
		cumPV += tp * volume[i]
		cumVol += volume[i]
		if cumVol == 0 {
			out[i] = tp
			continue
		}
		out[i] = cumPV / cumVol
	}
	return out
}

func obvHandler() handler {
	return handler{
		requires: []string{"close", "volume"},
		columnsFor: func(Spec) ([]string, error) {
			return []string{"obv"}, nil
		},
		warmup: func(Spec) int { return 1 },
		compute: func(s *Series, _ Spec) (Columns, []string, error) {
			vals := CalculateOBV(s.Close, s.Volume)
			if vals == nil {
				vals = nanSlice(s.Len())
			}
			return Columns{"obv": vals}, nil, nil
		},
	}
}

func vwapHandler() handler {
	return handler{
		requires: []string{"high", "low", "close", "volume"},
		columnsFor: func(Spec) ([]string, error) {
			return []string{"vwap"}, nil
		},
		warmup: func(Spec) int { return 1 },
		compute: func(s *Series, _ Spec) (Columns, []string, error) {
			vals := CalculateVWAP(s.High, s.Low, s.Close, s.Volume)
			if vals == nil {
				vals = nanSlice(s.Len())
			}
			return Columns{"vwap": vals}, nil, nil
		},
	}
}
