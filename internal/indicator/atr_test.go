package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWilderSmoothSeed(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}

	// offset 0: SMA seed over the first period values
	out := wilderSmooth(vals, 3, 0)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDelta(t, (2.0*2+4)/3, out[3], 1e-12)
	assert.InDelta(t, ((2.0*2+4)/3*2+5)/3, out[4], 1e-12)

	// offset 1 skips the unseedable first value
	out = wilderSmooth(vals, 3, 1)
	assert.True(t, math.IsNaN(out[2]))
	assert.InDelta(t, 3.0, out[3], 1e-12)
	assert.InDelta(t, (3.0*2+5)/3, out[4], 1e-12)

	// too short for offset+period: all NaN
	out = wilderSmooth([]float64{1, 2, 3}, 3, 1)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestCalculateATR(t *testing.T) {
	high := []float64{12, 13, 15, 14}
	low := []float64{10, 11, 12, 12}
	close := []float64{11, 12, 14, 13}

	// TR: 2 (first bar high-low), 2, 3, max(2, |14-14|, |12-14|) = 2
	got := CalculateATR(high, low, close, 2)
	require.Len(t, got, 4)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.5, got[2], 1e-12) // seed (2+3)/2
	assert.InDelta(t, 2.25, got[3], 1e-12)

	assert.Nil(t, CalculateATR(high, low, close, 0))
	assert.Nil(t, CalculateATR(nil, nil, nil, 14))
}

func TestCalculateADXTrending(t *testing.T) {
	// strictly rising bars with a fixed 1-point range: +DM = 1, -DM = 0,
	// TR = 1.5, so +DI = 100/1.5, -DI = 0, DX = 100 and ADX converges to 100
	n := 12
	high := make([]float64, n)
	low := make([]float64, n)
	close := make([]float64, n)
	for i := 0; i < n; i++ {
		high[i] = 10 + float64(i)
		low[i] = 9 + float64(i)
		close[i] = 9.5 + float64(i)
	}

	res, err := CalculateADX(high, low, close, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.True(t, math.IsNaN(res.PlusDI[i]), "bar %d", i)
		assert.True(t, math.IsNaN(res.ADX[i]), "bar %d", i)
	}
	assert.InDelta(t, 100.0/1.5, res.PlusDI[3], 1e-9)
	assert.InDelta(t, 0.0, res.MinusDI[3], 1e-9)
	assert.True(t, math.IsNaN(res.ADX[4]), "ADX needs a full DX window")
	assert.InDelta(t, 100.0, res.ADX[5], 1e-9)
	assert.InDelta(t, 100.0, res.ADX[n-1], 1e-9)
}

func TestCalculateADXFlatSeriesStaysNaN(t *testing.T) {
	// identical bars: TR and DM are zero, so the DI division is skipped
	// and no DX denominator blows up
	n := 10
	high := make([]float64, n)
	low := make([]float64, n)
	close := make([]float64, n)
	for i := range high {
		high[i], low[i], close[i] = 100, 100, 100
	}

	res, err := CalculateADX(high, low, close, 3)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.True(t, math.IsNaN(res.PlusDI[i]), "bar %d", i)
		assert.True(t, math.IsNaN(res.MinusDI[i]), "bar %d", i)
		assert.True(t, math.IsNaN(res.ADX[i]), "bar %d", i)
	}
}

func TestCalculateADXErrors(t *testing.T) {
	_, err := CalculateADX(nil, nil, nil, 0)
	assert.Error(t, err)

	// shorter than 2*period: all NaN, no error
	res, err := CalculateADX([]float64{1, 2}, []float64{0, 1}, []float64{1, 2}, 3)
	require.NoError(t, err)
	for _, v := range res.ADX {
		assert.True(t, math.IsNaN(v))
	}
}
