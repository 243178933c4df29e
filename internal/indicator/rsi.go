package indicator

import (
	"fmt"
	"math"
)

// CalculateRSI computes the Relative Strength Index using Wilder's
// smoothing (alpha = 1/period) applied separately to gains and losses.
// The first period-1 values are NaN. The all-zero-loss case yields 100,
// never a division error. Output is clipped to [0, 100].
func CalculateRSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return nil
	}
	rsi := nanSlice(len(prices))
	if len(prices) < period {
		return rsi
	}

	var gain, loss float64
	for i := 1; i < period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss += -change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	rsi[period-1] = rsiValue(avgGain, avgLoss)

	for i := period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain = change
			loss = 0
		} else {
			gain = 0
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiValue(avgGain, avgLoss)
	}
	return rsi
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	v := 100 - (100 / (1 + rs))
	return math.Min(100, math.Max(0, v))
}

func rsiHandler() handler {
	return handler{
		requires: []string{"close"},
		columnsFor: func(spec Spec) ([]string, error) {
			period := spec.IntParam("period", 14)
			if period <= 0 {
				return nil, fmt.Errorf("rsi: period must be positive")
			}
			return []string{columnName("rsi", float64(period))}, nil
		},
		warmup: func(spec Spec) int { return spec.IntParam("period", 14) },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			period := spec.IntParam("period", 14)
			if period <= 0 {
				return nil, nil, fmt.Errorf("rsi: period must be positive")
			}
			name := columnName("rsi", float64(period))
			vals := CalculateRSI(s.Close, period)
			if vals == nil {
				vals = nanSlice(s.Len())
			}
			return Columns{name: vals}, nil, nil
		},
	}
}
