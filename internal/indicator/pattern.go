package indicator

import "github.com/amirphl/staged-backtester/internal/pattern"

// Candlestick pattern columns: each value is +1 (bullish), -1 (bearish)
// or 0 (no pattern), so conditions can compare them like any other
// indicator output.
func patternHandler() handler {
	cols := []string{"pattern_doji", "pattern_engulfing", "pattern_hammer", "pattern_star"}
	return handler{
		requires: []string{"open", "high", "low", "close"},
		columnsFor: func(Spec) ([]string, error) {
			return cols, nil
		},
		warmup: func(Spec) int { return 3 },
		compute: func(s *Series, _ Spec) (Columns, []string, error) {
			return Columns{
				cols[0]: pattern.Doji(s.Open, s.High, s.Low, s.Close),
				cols[1]: pattern.Engulfing(s.Open, s.Close),
				cols[2]: pattern.Hammer(s.Open, s.High, s.Low, s.Close),
				cols[3]: pattern.Star(s.Open, s.High, s.Low, s.Close),
			}, nil, nil
		},
	}
}
