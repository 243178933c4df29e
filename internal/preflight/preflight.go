// Package preflight statically validates a strategy before any bar is
// processed: structural completeness, referential integrity of condition
// references against the columns the indicator engine would produce, and
// a data-window sufficiency check. All findings are collected in one
// pass; callers refuse to run on any error and may proceed on warnings.
package preflight

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amirphl/staged-backtester/internal/indicator"
	"github.com/amirphl/staged-backtester/internal/strategy"
)

// Report is the outcome of one validation pass.
type Report struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the strategy may run.
func (r *Report) Valid() bool { return len(r.Errors) == 0 }

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Options tunes the validator.
type Options struct {
	// Bars is the size of the historical window about to be simulated.
	// Zero skips the window check.
	Bars int
	// StrictWindow promotes an insufficient data window from warning
	// to error.
	StrictWindow bool
}

// Validator checks strategies against an indicator engine without
// running any computation.
type Validator struct {
	engine *indicator.Engine
	opts   Options
}

// New creates a preflight validator.
func New(engine *indicator.Engine, opts Options) *Validator {
	return &Validator{engine: engine, opts: opts}
}

// Validate runs every check and returns the full list of findings.
func (v *Validator) Validate(cfg *strategy.Config) *Report {
	r := &Report{}

	if err := cfg.Validate(); err != nil {
		r.errorf("structure: %v", err)
	}
	v.checkConditionPresence(cfg, r)
	v.checkSpecs(cfg, r)

	columns, err := v.engine.ColumnsFor(cfg.Indicators)
	if err != nil {
		r.errorf("indicators: %v", err)
		// reference checks against a partial column set would be noise
		return r
	}
	v.checkReferences(cfg, columns, r)
	v.checkWindow(cfg, r)
	return r
}

// checkConditionPresence requires at least one entry and one exit path:
// plain condition lists or stage ladders.
func (v *Validator) checkConditionPresence(cfg *strategy.Config, r *Report) {
	if len(cfg.BuyConditions) == 0 && len(cfg.BuyStages) == 0 {
		r.errorf("structure: no buy conditions or buy stages configured")
	}
	if len(cfg.SellConditions) == 0 && len(cfg.SellStages) == 0 &&
		cfg.Risk.StopLossPercent <= 0 && cfg.Risk.TakeProfitPercent <= 0 &&
		len(cfg.Risk.ProfitStages) == 0 && cfg.Risk.TrailingStopPercent <= 0 {
		r.errorf("structure: no exit path configured (sell conditions, stages or risk triggers)")
	}
	for _, c := range cfg.AllConditions() {
		if !strategy.ValidOperator(c.Operator) {
			r.errorf("condition: unknown operator %q", c.Operator)
		}
		if c.CombineWith != "" && c.CombineWith != strategy.CombineAnd && c.CombineWith != strategy.CombineOr {
			r.errorf("condition: invalid combine_with %q", c.CombineWith)
		}
	}
}

// checkSpecs validates the indicator spec list: registered types and
// positive periods.
func (v *Validator) checkSpecs(cfg *strategy.Config, r *Report) {
	if len(cfg.Indicators) == 0 {
		r.warnf("indicators: none configured, conditions can only reference OHLCV columns")
	}
	for _, spec := range cfg.Indicators {
		if !v.engine.Known(spec.Type) {
			r.errorf("indicators: unknown type %q", spec.Type)
			continue
		}
		for key, val := range spec.Params {
			if strings.Contains(key, "period") && val <= 0 {
				r.errorf("indicators: %s param %s must be positive, got %s",
					spec.Type, key, strconv.FormatFloat(val, 'g', -1, 64))
			}
		}
	}
}

// checkReferences resolves every condition reference against the exact
// column set the configured specs would produce, using the same suffix
// stripping fallback the runtime evaluator applies.
func (v *Validator) checkReferences(cfg *strategy.Config, columns []string, r *Report) {
	available := make(map[string]bool, len(columns)+5)
	for _, c := range columns {
		available[c] = true
	}
	for _, base := range []string{"open", "high", "low", "close", "volume"} {
		available[base] = true
	}

	seen := make(map[string]bool)
	check := func(ref string) {
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		if !resolves(available, ref) {
			r.errorf("reference: %q does not resolve against any computed column", ref)
		}
	}

	for _, c := range cfg.AllConditions() {
		check(c.Indicator)
		if c.CompareTo.IsIndicator() {
			check(c.CompareTo.Indicator)
		}
	}
}

// resolves mirrors the runtime lookup: exact match first, then strip
// trailing numeric suffixes one at a time.
func resolves(available map[string]bool, ref string) bool {
	candidate := ref
	for {
		if available[candidate] {
			return true
		}
		idx := strings.LastIndex(candidate, "_")
		if idx <= 0 {
			return false
		}
		if _, err := strconv.ParseFloat(candidate[idx+1:], 64); err != nil {
			return false
		}
		candidate = candidate[:idx]
	}
}

// checkWindow warns (or errors in strict mode) when the historical window
// is shorter than three times the slowest indicator warm-up.
func (v *Validator) checkWindow(cfg *strategy.Config, r *Report) {
	if v.opts.Bars <= 0 {
		return
	}
	warmup := v.engine.WarmupBars(cfg.Indicators)
	need := 3 * warmup
	if warmup == 0 || v.opts.Bars >= need {
		return
	}
	if v.opts.StrictWindow {
		r.errorf("data: window of %d bars is below 3x the slowest indicator period (%d needed)", v.opts.Bars, need)
		return
	}
	r.warnf("data: window of %d bars is below 3x the slowest indicator period (%d recommended)", v.opts.Bars, need)
}
