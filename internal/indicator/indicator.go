// Package indicator provides technical analysis indicators for financial markets
package indicator

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/amirphl/staged-backtester/internal/candle"
)

// Spec describes one requested indicator computation. Many specs of the
// same type with different params may coexist; each produces uniquely
// named output columns.
type Spec struct {
	Type    string             `json:"type" yaml:"type"`
	Params  map[string]float64 `json:"params" yaml:"params"`
	Formula string             `json:"formula,omitempty" yaml:"formula,omitempty"` // custom type only
	Name    string             `json:"name,omitempty" yaml:"name,omitempty"`       // custom type only
}

// Param returns the named parameter or the given default.
func (s Spec) Param(key string, def float64) float64 {
	if v, ok := s.Params[key]; ok {
		return v
	}
	return def
}

// IntParam returns the named parameter truncated to int, or the default.
func (s Spec) IntParam(key string, def int) int {
	if v, ok := s.Params[key]; ok {
		return int(v)
	}
	return def
}

// Columns maps output column names to value series.
type Columns map[string][]float64

// Result holds the outcome of one engine Compute call. It is ephemeral:
// callers merge Columns into their working series.
type Result struct {
	Columns       Columns
	Warnings      []string
	NaNRatio      float64
	ExecutionTime time.Duration
}

// UnknownIndicatorError reports a spec whose type is not registered.
type UnknownIndicatorError struct {
	Type string
}

func (e *UnknownIndicatorError) Error() string {
	return fmt.Sprintf("unknown indicator type: %s", e.Type)
}

// MissingColumnError reports a required source column that is absent
// from the input series.
type MissingColumnError struct {
	Indicator string
	Column    string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("indicator %s requires missing column: %s", e.Indicator, e.Column)
}

// Series is the working price table: base OHLCV plus computed columns.
type Series struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64

	computed map[string][]float64
}

// NewSeries builds a Series from sorted candles.
func NewSeries(candles []candle.Candle) *Series {
	s := &Series{
		Timestamps: make([]time.Time, len(candles)),
		Open:       make([]float64, len(candles)),
		High:       make([]float64, len(candles)),
		Low:        make([]float64, len(candles)),
		Close:      make([]float64, len(candles)),
		Volume:     make([]float64, len(candles)),
		computed:   make(map[string][]float64),
	}
	for i, c := range candles {
		s.Timestamps[i] = c.Timestamp
		s.Open[i] = c.Open
		s.High[i] = c.High
		s.Low[i] = c.Low
		s.Close[i] = c.Close
		s.Volume[i] = c.Volume
	}
	return s
}

// Len returns the number of bars in the series.
func (s *Series) Len() int { return len(s.Close) }

// Column resolves a column by name: OHLCV aliases first, then computed
// indicator columns.
func (s *Series) Column(name string) ([]float64, bool) {
	switch name {
	case "open":
		return s.Open, true
	case "high":
		return s.High, true
	case "low":
		return s.Low, true
	case "close":
		return s.Close, true
	case "volume":
		return s.Volume, true
	}
	vals, ok := s.computed[name]
	return vals, ok
}

// SetColumn merges a computed column into the series, overwriting any
// previous column with the same name (recomputation is idempotent).
func (s *Series) SetColumn(name string, vals []float64) {
	s.computed[name] = vals
}

// ColumnNames returns the names of all computed columns.
func (s *Series) ColumnNames() []string {
	names := make([]string, 0, len(s.computed))
	for name := range s.computed {
		names = append(names, name)
	}
	return names
}

// Row is a read-only view of one bar of the series.
type Row struct {
	series *Series
	idx    int
}

// At returns the Row view at index i. A negative index yields a Row
// whose lookups all fail, which lets callers pass "no previous row".
func (s *Series) At(i int) Row {
	return Row{series: s, idx: i}
}

// Valid reports whether the row points at an actual bar.
func (r Row) Valid() bool {
	return r.series != nil && r.idx >= 0 && r.idx < r.series.Len()
}

// Value resolves a column at this row. Missing columns and invalid rows
// return (NaN, false).
func (r Row) Value(name string) (float64, bool) {
	if !r.Valid() {
		return math.NaN(), false
	}
	col, ok := r.series.Column(name)
	if !ok || r.idx >= len(col) {
		return math.NaN(), false
	}
	return col[r.idx], true
}

// Index returns the bar index of the row.
func (r Row) Index() int { return r.idx }

// Timestamp returns the bar timestamp, or the zero time for invalid rows.
func (r Row) Timestamp() time.Time {
	if !r.Valid() {
		return time.Time{}
	}
	return r.series.Timestamps[r.idx]
}

// formatParam renders a parameter for column naming: integers in base 10,
// floats in shortest form, so repeated requests never collide.
func formatParam(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// columnName builds a deterministic `{base}_{param1}_{param2}...` name.
func columnName(base string, params ...float64) string {
	name := base
	for _, p := range params {
		name += "_" + formatParam(p)
	}
	return name
}

// nanSlice returns a slice of n NaNs.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
