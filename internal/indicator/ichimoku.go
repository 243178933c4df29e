package indicator

import (
	"fmt"
	"math"
)

// IchimokuResult holds the five cloud lines.
type IchimokuResult struct {
	Tenkan  []float64 // conversion line
	Kijun   []float64 // base line
	SenkouA []float64 // leading span A, shifted forward kijun bars
	SenkouB []float64 // leading span B, shifted forward kijun bars
	Chikou  []float64 // lagging span, shifted backward kijun bars
}

// midpoint computes (highestHigh + lowestLow)/2 over a rolling window.
func midpoint(high, low []float64, period int) []float64 {
	n := len(high)
	out := nanSlice(n)
	for i := period - 1; i < n; i++ {
		hh := math.Inf(-1)
		ll := math.Inf(1)
		for j := i - period + 1; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		out[i] = (hh + ll) / 2
	}
	return out
}

// CalculateIchimoku computes the five-line Ichimoku cloud. Senkou spans
// are shifted forward by the kijun period, the chikou span backward by
// the same amount; cells shifted outside the series are NaN.
func CalculateIchimoku(high, low, close []float64, tenkan, kijun, senkouB int) (*IchimokuResult, error) {
	if tenkan <= 0 || kijun <= 0 || senkouB <= 0 {
		return nil, fmt.Errorf("ichimoku: all periods must be positive")
	}
	n := len(close)
	res := &IchimokuResult{
		Tenkan: midpoint(high, low, tenkan),
		Kijun:  midpoint(high, low, kijun),
	}

	rawA := nanSlice(n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(res.Tenkan[i]) && !math.IsNaN(res.Kijun[i]) {
			rawA[i] = (res.Tenkan[i] + res.Kijun[i]) / 2
		}
	}
	rawB := midpoint(high, low, senkouB)

	res.SenkouA = shiftSeries(rawA, kijun)
	res.SenkouB = shiftSeries(rawB, kijun)
	res.Chikou = shiftSeries(close, -kijun)
	return res, nil
}

func ichimokuHandler() handler {
	names := func(spec Spec) (tenkan, kijun, senkouB int, cols []string, err error) {
		tenkan = spec.IntParam("tenkan", 9)
		kijun = spec.IntParam("kijun", 26)
		senkouB = spec.IntParam("senkou_b", 52)
		if tenkan <= 0 || kijun <= 0 || senkouB <= 0 {
			err = fmt.Errorf("ichimoku: all periods must be positive")
			return
		}
		params := []float64{float64(tenkan), float64(kijun), float64(senkouB)}
		cols = []string{
			columnName("ichimoku_tenkan", params...),
			columnName("ichimoku_kijun", params...),
			columnName("ichimoku_senkou_a", params...),
			columnName("ichimoku_senkou_b", params...),
			columnName("ichimoku_chikou", params...),
		}
		return
	}
	return handler{
		requires: []string{"high", "low", "close"},
		columnsFor: func(spec Spec) ([]string, error) {
			_, _, _, cols, err := names(spec)
			return cols, err
		},
		warmup: func(spec Spec) int {
			return spec.IntParam("senkou_b", 52) + spec.IntParam("kijun", 26)
		},
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			tenkan, kijun, senkouB, cols, err := names(spec)
			if err != nil {
				return nil, nil, err
			}
			res, err := CalculateIchimoku(s.High, s.Low, s.Close, tenkan, kijun, senkouB)
			if err != nil {
				return nil, nil, err
			}
			return Columns{
				cols[0]: res.Tenkan,
				cols[1]: res.Kijun,
				cols[2]: res.SenkouA,
				cols[3]: res.SenkouB,
				cols[4]: res.Chikou,
			}, nil, nil
		},
	}
}
