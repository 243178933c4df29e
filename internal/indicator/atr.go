package indicator

import (
	"fmt"
	"math"
)

// trueRange computes the per-bar True Range. The first bar uses high-low
// since no previous close exists.
func trueRange(high, low, close []float64) []float64 {
	n := len(close)
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			tr[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// CalculateATR computes the Wilder-smoothed Average True Range.
func CalculateATR(high, low, close []float64, period int) []float64 {
	if period <= 0 || len(close) == 0 {
		return nil
	}
	tr := trueRange(high, low, close)
	// Seed from bar 1: the first TR has no previous close behind it.
	return wilderSmooth(tr, period, 1)
}

// ADXResult holds the directional movement outputs.
type ADXResult struct {
	PlusDI  []float64
	MinusDI []float64
	ADX     []float64
}

// CalculateADX computes Wilder's directional movement system:
// +DI/-DI from smoothed +DM/-DM over smoothed TR,
// DX = 100*|+DI - -DI| / (+DI + -DI), ADX = Wilder-smoothed DX.
func CalculateADX(high, low, close []float64, period int) (*ADXResult, error) {
	if period <= 0 {
		return nil, fmt.Errorf("adx: period must be positive")
	}
	n := len(close)
	res := &ADXResult{
		PlusDI:  nanSlice(n),
		MinusDI: nanSlice(n),
		ADX:     nanSlice(n),
	}
	if n < 2*period {
		return res, nil
	}

	tr := trueRange(high, low, close)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	smTR := wilderSmooth(tr, period, 1)
	smPlus := wilderSmooth(plusDM, period, 1)
	smMinus := wilderSmooth(minusDM, period, 1)

	dx := nanSlice(n)
	for i := period; i < n; i++ {
		if math.IsNaN(smTR[i]) || smTR[i] == 0 {
			continue
		}
		pdi := 100 * smPlus[i] / smTR[i]
		mdi := 100 * smMinus[i] / smTR[i]
		res.PlusDI[i] = pdi
		res.MinusDI[i] = mdi
		if sum := pdi + mdi; sum != 0 {
			dx[i] = 100 * math.Abs(pdi-mdi) / sum
		}
	}

	// ADX is Wilder-smoothed DX, seeded where DX first becomes valid.
	adx := wilderSmooth(dx, period, period)
	copy(res.ADX, adx)
	return res, nil
}

func atrHandler() handler {
	return handler{
		requires: []string{"high", "low", "close"},
		columnsFor: func(spec Spec) ([]string, error) {
			period := spec.IntParam("period", 14)
			if period <= 0 {
				return nil, fmt.Errorf("atr: period must be positive")
			}
			return []string{columnName("atr", float64(period))}, nil
		},
		warmup: func(spec Spec) int { return spec.IntParam("period", 14) + 1 },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			period := spec.IntParam("period", 14)
			if period <= 0 {
				return nil, nil, fmt.Errorf("atr: period must be positive")
			}
			name := columnName("atr", float64(period))
			vals := CalculateATR(s.High, s.Low, s.Close, period)
			if vals == nil {
				vals = nanSlice(s.Len())
			}
			return Columns{name: vals}, nil, nil
		},
	}
}

func adxHandler() handler {
	names := func(spec Spec) (period int, adx, pdi, mdi string, err error) {
		period = spec.IntParam("period", 14)
		if period <= 0 {
			err = fmt.Errorf("adx: period must be positive")
			return
		}
		adx = columnName("adx", float64(period))
		pdi = columnName("plus_di", float64(period))
		mdi = columnName("minus_di", float64(period))
		return
	}
	return handler{
		requires: []string{"high", "low", "close"},
		columnsFor: func(spec Spec) ([]string, error) {
			_, adx, pdi, mdi, err := names(spec)
			if err != nil {
				return nil, err
			}
			return []string{adx, pdi, mdi}, nil
		},
		warmup: func(spec Spec) int { return 2 * spec.IntParam("period", 14) },
		compute: func(s *Series, spec Spec) (Columns, []string, error) {
			period, adxName, pdiName, mdiName, err := names(spec)
			if err != nil {
				return nil, nil, err
			}
			res, err := CalculateADX(s.High, s.Low, s.Close, period)
			if err != nil {
				return nil, nil, err
			}
			return Columns{
				adxName: res.ADX,
				pdiName: res.PlusDI,
				mdiName: res.MinusDI,
			}, nil, nil
		},
	}
}
