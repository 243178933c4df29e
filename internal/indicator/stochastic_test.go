package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateStochastic(t *testing.T) {
	high := []float64{3, 4, 5, 6}
	low := []float64{1, 2, 3, 4}
	close := []float64{2, 4, 5, 5}

	res, err := CalculateStochastic(high, low, close, 3, 1, 2)
	require.NoError(t, err)

	// raw[2] = 100*(5-1)/(5-1) = 100, raw[3] = 100*(5-2)/(6-2) = 75
	assert.True(t, math.IsNaN(res.K[1]))
	assert.InDelta(t, 100.0, res.K[2], 1e-12)
	assert.InDelta(t, 75.0, res.K[3], 1e-12)

	// %D = SMA(%K, 2) starting where %K becomes valid
	assert.True(t, math.IsNaN(res.D[2]))
	assert.InDelta(t, 87.5, res.D[3], 1e-12)
}

func TestCalculateStochasticFlatWindowIsNaN(t *testing.T) {
	n := 6
	flat := make([]float64, n)
	for i := range flat {
		flat[i] = 50
	}
	res, err := CalculateStochastic(flat, flat, flat, 3, 1, 3)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.True(t, math.IsNaN(res.K[i]), "bar %d", i)
		assert.True(t, math.IsNaN(res.D[i]), "bar %d", i)
	}
}

func TestCalculateStochasticInvalidPeriods(t *testing.T) {
	_, err := CalculateStochastic([]float64{1}, []float64{1}, []float64{1}, 0, 1, 3)
	assert.Error(t, err)
	_, err = CalculateStochastic([]float64{1}, []float64{1}, []float64{1}, 14, -1, 3)
	assert.Error(t, err)
}
