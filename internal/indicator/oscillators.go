package indicator

import (
	"fmt"
	"math"
)

// CalculateCCI computes the Commodity Channel Index over typical price,
// normalized by the mean absolute deviation of the window:
// CCI = (TP - SMA(TP)) / (0.015 * MAD).
func CalculateCCI(high, low, close []float64, period int) []float64 {
	if period <= 0 || len(close) == 0 {
		return nil
	}
	n := len(close)
	tp := make([]float64, n)
	for i := 0; i < n; i++ {
		tp[i] = (high[i] + low[i] + close[i]) / 3
	}

	out := nanSlice(n)
	for i := period - 1; i < n; i++ {
		window := tp[i-period+1 : i+1]
		var mean float64
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)

		var mad float64
		for _, v := range window {
			mad += math.Abs(v - mean)
		}
		mad /= float64(period)
		if mad == 0 {
			continue // flat window, leave NaN
		}
		out[i] = (tp[i] - mean) / (0.015 * mad)
	}
	return out
}

// CalculateWilliamsR computes Williams %R:
// -100 * (highestHigh - close) / (highestHigh - lowestLow), in [-100, 0].
func CalculateWilliamsR(high, low, close []float64, period int) []float64 {
	if period <= 0 || len(close) == 0 {
		return nil
	}
	n := len(close)
	out := nanSlice(n)
	for i := period - 1; i < n; i++ {
		hh := math.Inf(-1)
		ll := math.Inf(1)
		for j := i - period + 1; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			continue
		}
		out[i] = -100 * (hh - close[i]) / (hh - ll)
	}
	return out
}

func cciHandler() handler {
	return handler{
		requires: []string{"high", "low", "close"},
		columnsFor: func(spec Spec) ([]string, error) {
			period := spec.IntParam("period", 20)
			if period <= 0 {
				return nil, fmt.Errorf("cci: period must be positive")
			}
			return []string{columnName("cci", float64(period))}, nil
		},
		warmup: func(spec Spec) int { return spec.IntParam("period", 20) },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			period := spec.IntParam("period", 20)
			if period <= 0 {
				return nil, nil, fmt.Errorf("cci: period must be positive")
			}
			name := columnName("cci", float64(period))
			vals := CalculateCCI(s.High, s.Low, s.Close, period)
			if vals == nil {
				vals = nanSlice(s.Len())
			}
			return Columns{name: vals}, nil, nil
		},
	}
}

func williamsRHandler() handler {
	return handler{
		requires: []string{"high", "low", "close"},
		columnsFor: func(spec Spec) ([]string, error) {
			period := spec.IntParam("period", 14)
			if period <= 0 {
				return nil, fmt.Errorf("williams_r: period must be positive")
			}
			return []string{columnName("willr", float64(period))}, nil
		},
		warmup: func(spec Spec) int { return spec.IntParam("period", 14) },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			period := spec.IntParam("period", 14)
			if period <= 0 {
				return nil, nil, fmt.Errorf("williams_r: period must be positive")
			}
			name := columnName("willr", float64(period))
			vals := CalculateWilliamsR(s.High, s.Low, s.Close, period)
			if vals == nil {
				vals = nanSlice(s.Len())
			}
			return Columns{name: vals}, nil, nil
		},
	}
}
