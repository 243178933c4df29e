package indicator

import (
	"fmt"
	"math"
)

// CalculateSMA computes a simple moving average. The first period-1
// values are NaN.
func CalculateSMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return nil
	}
	out := nanSlice(len(prices))
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// CalculateEMA computes a recursive exponential moving average with
// alpha = 2/(period+1), seeded with the SMA of the first period values.
func CalculateEMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return nil
	}
	out := nanSlice(len(prices))
	if len(prices) < period {
		return out
	}
	alpha := 2.0 / float64(period+1)

	var seed float64
	for i := 0; i < period; i++ {
		seed += prices[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	prev := seed
	for i := period; i < len(prices); i++ {
		prev = alpha*prices[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// CalculateWMA computes a linearly weighted moving average with weights
// 1..period (most recent bar heaviest).
func CalculateWMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return nil
	}
	out := nanSlice(len(prices))
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(prices); i++ {
		var sum float64
		for j := 0; j < period; j++ {
			sum += prices[i-period+1+j] * float64(j+1)
		}
		out[i] = sum / denom
	}
	return out
}

// wilderSmooth applies Wilder's smoothing (alpha = 1/period) to values,
// seeded with the mean of the first period values starting at offset.
// Values before the seed are NaN.
func wilderSmooth(values []float64, period, offset int) []float64 {
	out := nanSlice(len(values))
	if len(values) < offset+period {
		return out
	}
	var seed float64
	for i := offset; i < offset+period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	idx := offset + period - 1
	out[idx] = seed

	prev := seed
	for i := idx + 1; i < len(values); i++ {
		prev = (prev*float64(period-1) + values[i]) / float64(period)
		out[i] = prev
	}
	return out
}

func movingAverageHandler(base string, fn func([]float64, int) []float64) handler {
	return handler{
		requires: []string{"close"},
		columnsFor: func(spec Spec) ([]string, error) {
			period := spec.IntParam("period", 0)
			if period <= 0 {
				return nil, fmt.Errorf("%s: period must be positive", base)
			}
			return []string{columnName(base, float64(period))}, nil
		},
		warmup: func(spec Spec) int { return spec.IntParam("period", 0) },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			period := spec.IntParam("period", 0)
			if period <= 0 {
				return nil, nil, fmt.Errorf("%s: period must be positive", base)
			}
			name := columnName(base, float64(period))
			vals := fn(s.Close, period)
			if vals == nil {
				vals = nanSlice(s.Len())
			}
			var warns []string
			if s.Len() < period {
				warns = append(warns, fmt.Sprintf("%s: %d bars < period %d, all values NaN", name, s.Len(), period))
			}
			return Columns{name: vals}, warns, nil
		},
	}
}

func smaHandler() handler { return movingAverageHandler("sma", CalculateSMA) }
func emaHandler() handler { return movingAverageHandler("ema", CalculateEMA) }
func wmaHandler() handler { return movingAverageHandler("wma", CalculateWMA) }

// shiftSeries moves values forward (positive n) or backward (negative n)
// by n bars, filling vacated cells with NaN.
func shiftSeries(values []float64, n int) []float64 {
	out := nanSlice(len(values))
	for i := range values {
		j := i + n
		if j >= 0 && j < len(values) {
			out[j] = values[i]
		}
	}
	return out
}

// populationStdev computes the ddof=0 standard deviation of a window.
func populationStdev(window []float64, mean float64) float64 {
	var sum float64
	for _, v := range window {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(window)))
}
