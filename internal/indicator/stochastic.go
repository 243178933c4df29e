package indicator

import (
	"fmt"
	"math"
)

// StochasticResult holds the results of stochastic oscillator calculation.
type StochasticResult struct {
	K []float64 // %K line values
	D []float64 // %D line values
}

// CalculateStochastic calculates the Stochastic Oscillator:
// raw = 100 * (close - lowestLow(periodK)) / (highestHigh(periodK) - lowestLow(periodK)),
// %K = SMA(raw, smoothK), %D = SMA(%K, periodD).
// A zero high-low range resolves to NaN rather than a division error.
func CalculateStochastic(high, low, close []float64, periodK, smoothK, periodD int) (*StochasticResult, error) {
	if periodK <= 0 || smoothK <= 0 || periodD <= 0 {
		return nil, fmt.Errorf("stochastic: all periods must be positive integers")
	}
	n := len(close)
	res := &StochasticResult{K: nanSlice(n), D: nanSlice(n)}
	if n < periodK {
		return res, nil
	}

	raw := nanSlice(n)
	for i := periodK - 1; i < n; i++ {
		hh := math.Inf(-1)
		ll := math.Inf(1)
		for j := i - periodK + 1; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			continue // flat window, leave NaN
		}
		raw[i] = 100 * (close[i] - ll) / (hh - ll)
	}

	copy(res.K, smaOverValid(raw, smoothK))
	copy(res.D, smaOverValid(res.K, periodD))
	return res, nil
}

// smaOverValid computes an SMA that starts once a full window of non-NaN
// values is available, skipping the NaN warm-up prefix.
func smaOverValid(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	first := -1
	for i, v := range values {
		if !math.IsNaN(v) {
			first = i
			break
		}
	}
	if first < 0 {
		return out
	}
	valid := CalculateSMA(values[first:], period)
	for i, v := range valid {
		out[first+i] = v
	}
	return out
}

func stochasticHandler() handler {
	names := func(spec Spec) (periodK, smoothK, periodD int, k, d string, err error) {
		periodK = spec.IntParam("period_k", 14)
		smoothK = spec.IntParam("smooth_k", 1)
		periodD = spec.IntParam("period_d", 3)
		if periodK <= 0 || smoothK <= 0 || periodD <= 0 {
			err = fmt.Errorf("stochastic: all periods must be positive")
			return
		}
		params := []float64{float64(periodK), float64(smoothK), float64(periodD)}
		k = columnName("stoch_k", params...)
		d = columnName("stoch_d", params...)
		return
	}
	return handler{
		requires: []string{"high", "low", "close"},
		columnsFor: func(spec Spec) ([]string, error) {
			_, _, _, k, d, err := names(spec)
			if err != nil {
				return nil, err
			}
			return []string{k, d}, nil
		},
		warmup: func(spec Spec) int {
			return spec.IntParam("period_k", 14) + spec.IntParam("smooth_k", 1) + spec.IntParam("period_d", 3)
		},
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			periodK, smoothK, periodD, kName, dName, err := names(spec)
			if err != nil {
				return nil, nil, err
			}
			res, err := CalculateStochastic(s.High, s.Low, s.Close, periodK, smoothK, periodD)
			if err != nil {
				return nil, nil, err
			}
			return Columns{kName: res.K, dName: res.D}, nil, nil
		},
	}
}
