package indicator

import (
	"fmt"
	"math"
)

// CalculatePSAR computes the Parabolic SAR with the standard iterative
// trend / extreme-point / acceleration-factor state machine. The SAR is
// clamped so it never penetrates the prior two bars' extremes; a
// penetration of the current bar flips the trend, resetting AF and EP.
func CalculatePSAR(high, low []float64, step, maxStep float64) []float64 {
	n := len(high)
	if n == 0 || step <= 0 || maxStep < step {
		return nil
	}
	out := nanSlice(n)
	if n < 2 {
		return out
	}

	// Initial trend from the first two bars.
	uptrend := high[1]+low[1] >= high[0]+low[0]
	var sar, ep float64
	if uptrend {
		sar = low[0]
		ep = high[1]
	} else {
		sar = high[0]
		ep = low[1]
	}
	af := step
	out[1] = sar

	for i := 2; i < n; i++ {
		next := sar + af*(ep-sar)

		if uptrend {
			// Never rise into the prior two bars' lows.
			next = math.Min(next, math.Min(low[i-1], low[i-2]))
			if low[i] < next {
				// Reversal: SAR jumps to the prior extreme point.
				uptrend = false
				sar = ep
				ep = low[i]
				af = step
			} else {
				sar = next
				if high[i] > ep {
					ep = high[i]
					af = math.Min(af+step, maxStep)
				}
			}
		} else {
			// Never fall into the prior two bars' highs.
			next = math.Max(next, math.Max(high[i-1], high[i-2]))
			if high[i] > next {
				uptrend = true
				sar = ep
				ep = high[i]
				af = step
			} else {
				sar = next
				if low[i] < ep {
					ep = low[i]
					af = math.Min(af+step, maxStep)
				}
			}
		}
		out[i] = sar
	}
	return out
}

func psarHandler() handler {
	names := func(spec Spec) (step, maxStep float64, name string, err error) {
		step = spec.Param("step", 0.02)
		maxStep = spec.Param("max", 0.2)
		if step <= 0 || maxStep < step {
			err = fmt.Errorf("psar: need 0 < step <= max")
			return
		}
		name = columnName("psar", step, maxStep)
		return
	}
	return handler{
		requires: []string{"high", "low"},
		columnsFor: func(spec Spec) ([]string, error) {
			_, _, name, err := names(spec)
			if err != nil {
				return nil, err
			}
			return []string{name}, nil
		},
		warmup: func(Spec) int { return 2 },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			step, maxStep, name, err := names(spec)
			if err != nil {
				return nil, nil, err
			}
			vals := CalculatePSAR(s.High, s.Low, step, maxStep)
			if vals == nil {
				vals = nanSlice(s.Len())
			}
			return Columns{name: vals}, nil, nil
		},
	}
}
