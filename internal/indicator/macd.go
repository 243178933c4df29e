package indicator

import (
	"fmt"
	"math"
)

// MACDResult holds the three MACD output lines.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// CalculateMACD computes MACD = EMA(fast) - EMA(slow), signal =
// EMA(signalSpan) of the MACD line, histogram = MACD - signal.
func CalculateMACD(prices []float64, fast, slow, signalSpan int) (*MACDResult, error) {
	if fast <= 0 || slow <= 0 || signalSpan <= 0 {
		return nil, fmt.Errorf("macd: all periods must be positive")
	}
	if fast >= slow {
		return nil, fmt.Errorf("macd: fast period %d must be less than slow period %d", fast, slow)
	}

	n := len(prices)
	fastEMA := CalculateEMA(prices, fast)
	slowEMA := CalculateEMA(prices, slow)

	macd := nanSlice(n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(fastEMA[i]) && !math.IsNaN(slowEMA[i]) {
			macd[i] = fastEMA[i] - slowEMA[i]
		}
	}

	// The signal EMA runs over the valid MACD region only; NaN prefix is
	// re-attached afterwards.
	sig := nanSlice(n)
	hist := nanSlice(n)
	start := slow - 1
	if start < n {
		valid := macd[start:]
		sigValid := CalculateEMA(valid, signalSpan)
		for i, v := range sigValid {
			sig[start+i] = v
			if !math.IsNaN(v) && !math.IsNaN(valid[i]) {
				hist[start+i] = valid[i] - v
			}
		}
	}

	return &MACDResult{MACD: macd, Signal: sig, Histogram: hist}, nil
}

func macdHandler() handler {
	names := func(spec Spec) (fast, slow, signalSpan int, macd, sig, hist string, err error) {
		fast = spec.IntParam("fast", 12)
		slow = spec.IntParam("slow", 26)
		signalSpan = spec.IntParam("signal", 9)
		if fast <= 0 || slow <= 0 || signalSpan <= 0 {
			err = fmt.Errorf("macd: all periods must be positive")
			return
		}
		params := []float64{float64(fast), float64(slow), float64(signalSpan)}
		macd = columnName("macd", params...)
		sig = columnName("macd_signal", params...)
		hist = columnName("macd_hist", params...)
		return
	}
	return handler{
		requires: []string{"close"},
		columnsFor: func(spec Spec) ([]string, error) {
			_, _, _, macd, sig, hist, err := names(spec)
			if err != nil {
				return nil, err
			}
			return []string{macd, sig, hist}, nil
		},
		warmup: func(spec Spec) int {
			return spec.IntParam("slow", 26) + spec.IntParam("signal", 9)
		},
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			fast, slow, signalSpan, macdName, sigName, histName, err := names(spec)
			if err != nil {
				return nil, nil, err
			}
			res, err := CalculateMACD(s.Close, fast, slow, signalSpan)
			if err != nil {
				return nil, nil, err
			}
			return Columns{
				macdName: res.MACD,
				sigName:  res.Signal,
				histName: res.Histogram,
			}, nil, nil
		},
	}
}
