// Package candle
package candle

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/amirphl/staged-backtester/internal/tfutils"
)

// Candle is one OHLCV bar for a fixed time interval.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Source    string    `json:"source"`
}

// IsComplete checks if a candle is complete (its interval has fully elapsed).
func (c *Candle) IsComplete() bool {
	now := time.Now().UTC()
	candleEnd := c.Timestamp.Add(tfutils.GetTimeframeDuration(c.Timeframe))
	return now.After(candleEnd)
}

// Validate checks if a candle has structurally valid data. Non-positive
// prices are not rejected here; see Warnings.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	return nil
}

// Warnings returns non-fatal data-quality findings for a candle.
// Non-positive OHLC values warn but never block a run.
func (c *Candle) Warnings() []string {
	var warns []string
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		warns = append(warns, fmt.Sprintf("non-positive OHLC at %s", c.Timestamp.Format(time.RFC3339)))
	}
	return warns
}

// Normalize sorts candles by timestamp ascending and removes duplicate
// timestamps keeping the last occurrence. The input slice is not modified.
func Normalize(candles []Candle) []Candle {
	if len(candles) == 0 {
		return nil
	}

	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	// Duplicates are adjacent after the stable sort; the later element wins.
	out := make([]Candle, 0, len(sorted))
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(c.Timestamp) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}

	if dropped := len(sorted) - len(out); dropped > 0 {
		log.Printf("Normalize | dropped %d duplicate candles (kept last occurrence)", dropped)
	}
	return out
}

// Trim returns the candles within [start, end), assuming sorted input.
func Trim(candles []Candle, start, end time.Time) []Candle {
	var out []Candle
	for _, c := range candles {
		if (c.Timestamp.Equal(start) || c.Timestamp.After(start)) && c.Timestamp.Before(end) {
			out = append(out, c)
		}
	}
	return out
}

// Closes extracts the close series from candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Aggregate rolls candles of a smaller timeframe up into the target
// timeframe. Input must be sorted; incomplete trailing buckets are kept.
func Aggregate(candles []Candle, targetTf string) ([]Candle, error) {
	if !tfutils.IsValidTimeframe(targetTf) {
		return nil, fmt.Errorf("invalid target timeframe: %s", targetTf)
	}
	if len(candles) == 0 {
		return nil, nil
	}

	duration := tfutils.GetTimeframeDuration(targetTf)
	var out []Candle
	var cur *Candle

	for _, c := range candles {
		bucket := c.Timestamp.Truncate(duration)
		if cur == nil || !cur.Timestamp.Equal(bucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			agg := c
			agg.Timestamp = bucket
			agg.Timeframe = targetTf
			cur = &agg
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out, nil
}
