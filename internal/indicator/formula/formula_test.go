package formula

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(cols map[string][]float64) func(string) ([]float64, bool) {
	return func(name string) ([]float64, bool) {
		vals, ok := cols[name]
		return vals, ok
	}
}

func TestCompileRejectsSandboxViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", "   "},
		{"assignment", "close = open"},
		{"indexing", "close[0]"},
		{"string literal", `close > "100"`},
		{"unknown call", "sqrt(close)"},
		{"wrong arity", "min(close)"},
		{"bitwise and", "close & 1"},
		{"unary not", "!close"},
		{"shift non-constant offset", "shift(close, open)"},
		{"trailing input", "close + 1 close"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			require.Error(t, err)
		})
	}
}

func TestCompileCollectsReferences(t *testing.T) {
	prog, err := Compile("(high - low) / close + shift(close, 1)")
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low", "close"}, prog.References())
}

func TestEvalArithmetic(t *testing.T) {
	prog, err := Compile("(high - low) * 2")
	require.NoError(t, err)

	got, err := prog.Eval(lookupFrom(map[string][]float64{
		"high": {11, 22},
		"low":  {9, 18},
	}), 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 8}, got)
}

func TestEvalDivisionByZeroIsNaN(t *testing.T) {
	prog, err := Compile("close / volume")
	require.NoError(t, err)

	got, err := prog.Eval(lookupFrom(map[string][]float64{
		"close":  {10, 10},
		"volume": {2, 0},
	}), 2)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got[0])
	assert.True(t, math.IsNaN(got[1]))
}

func TestEvalComparisonsAndBooleans(t *testing.T) {
	prog, err := Compile("close > 10 && close < 30")
	require.NoError(t, err)

	got, err := prog.Eval(lookupFrom(map[string][]float64{
		"close": {5, 20, 40, math.NaN()},
	}), 4)
	require.NoError(t, err)
	// NaN operands compare false.
	assert.Equal(t, []float64{0, 1, 0, 0}, got)
}

func TestEvalShift(t *testing.T) {
	prog, err := Compile("shift(close, 1)")
	require.NoError(t, err)

	got, err := prog.Eval(lookupFrom(map[string][]float64{
		"close": {1, 2, 3},
	}), 3)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got[0]))
	assert.Equal(t, 1.0, got[1])
	assert.Equal(t, 2.0, got[2])
}

func TestEvalCalls(t *testing.T) {
	prog, err := Compile("max(abs(close - open), 1)")
	require.NoError(t, err)

	got, err := prog.Eval(lookupFrom(map[string][]float64{
		"close": {10, 10},
		"open":  {13, 9.5},
	}), 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1}, got)
}

func TestEvalUnknownColumn(t *testing.T) {
	prog, err := Compile("missing + 1")
	require.NoError(t, err)

	_, err = prog.Eval(lookupFrom(nil), 2)
	assert.Error(t, err)
}
