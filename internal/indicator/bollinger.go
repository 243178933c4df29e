package indicator

import (
	"fmt"
	"math"
)

// BollingerResult holds the three band lines.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// CalculateBollinger computes Bollinger Bands: middle = SMA(period),
// bands = middle +/- k * population standard deviation (ddof = 0).
func CalculateBollinger(prices []float64, period int, k float64) (*BollingerResult, error) {
	if period <= 0 {
		return nil, fmt.Errorf("bollinger: period must be positive")
	}
	if k <= 0 {
		return nil, fmt.Errorf("bollinger: k must be positive")
	}

	n := len(prices)
	res := &BollingerResult{
		Upper:  nanSlice(n),
		Middle: CalculateSMA(prices, period),
		Lower:  nanSlice(n),
	}
	if res.Middle == nil {
		res.Middle = nanSlice(n)
		return res, nil
	}

	for i := period - 1; i < n; i++ {
		mean := res.Middle[i]
		if math.IsNaN(mean) {
			continue
		}
		sd := populationStdev(prices[i-period+1:i+1], mean)
		res.Upper[i] = mean + k*sd
		res.Lower[i] = mean - k*sd
	}
	return res, nil
}

func bollingerHandler() handler {
	names := func(spec Spec) (period int, k float64, upper, middle, lower string, err error) {
		period = spec.IntParam("period", 20)
		k = spec.Param("k", 2)
		if period <= 0 || k <= 0 {
			err = fmt.Errorf("bollinger: period and k must be positive")
			return
		}
		params := []float64{float64(period), k}
		upper = columnName("bb_upper", params...)
		middle = columnName("bb_middle", params...)
		lower = columnName("bb_lower", params...)
		return
	}
	return handler{
		requires: []string{"close"},
		columnsFor: func(spec Spec) ([]string, error) {
			_, _, upper, middle, lower, err := names(spec)
			if err != nil {
				return nil, err
			}
			return []string{upper, middle, lower}, nil
		},
		warmup: func(spec Spec) int { return spec.IntParam("period", 20) },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			period, k, upperName, middleName, lowerName, err := names(spec)
			if err != nil {
				return nil, nil, err
			}
			res, err := CalculateBollinger(s.Close, period, k)
			if err != nil {
				return nil, nil, err
			}
			return Columns{
				upperName:  res.Upper,
				middleName: res.Middle,
				lowerName:  res.Lower,
			}, nil, nil
		},
	}
}
