// Package strategy defines the declarative strategy configuration model:
// indicator specs, condition lists, staged entry/exit ladders and risk
// controls. Strategies are data; the engine packages interpret them.
package strategy

import (
	"fmt"

	"github.com/amirphl/staged-backtester/internal/indicator"
)

// Comparison operators.
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpEqual        = "=="
	OpCrossAbove   = "cross_above"
	OpCrossBelow   = "cross_below"
)

// Condition combinators for ordered condition lists.
const (
	CombineAnd = "and"
	CombineOr  = "or"
)

// ScanMode selects how staged ladders are scanned per bar.
type ScanMode string

const (
	// ScanSimple terminates the scan at the first failing stage.
	ScanSimple ScanMode = "simple"
	// ScanStaged collects every satisfied stage and applies the
	// percentage of the highest one.
	ScanStaged ScanMode = "staged"
)

// AllocationMode selects how capital is split across instruments.
type AllocationMode string

const (
	// AllocShared processes instruments sequentially against one balance.
	AllocShared AllocationMode = "shared"
	// AllocIsolated gives each instrument its own slice of capital;
	// results are aggregated afterward.
	AllocIsolated AllocationMode = "isolated"
)

// CompareTo is either a numeric literal or another indicator reference.
type CompareTo struct {
	Value     *float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Indicator string   `json:"indicator,omitempty" yaml:"indicator,omitempty"`
}

// IsIndicator reports whether the comparison target is a column reference.
func (c CompareTo) IsIndicator() bool { return c.Indicator != "" }

// Condition is one boolean check against the working table. Conditions
// form an ORDERED list evaluated left to right; each combines with the
// running result of all prior conditions via CombineWith (a left fold,
// not a precedence tree).
type Condition struct {
	Indicator   string    `json:"indicator" yaml:"indicator"`
	Operator    string    `json:"operator" yaml:"operator"`
	CompareTo   CompareTo `json:"compare_to" yaml:"compare_to"`
	CombineWith string    `json:"combine_with,omitempty" yaml:"combine_with,omitempty"` // "and" (default) or "or"
}

// Stage is one tranche of a staged entry or exit ladder. Stages are
// ordered by Number and mutually exclusive per bar.
type Stage struct {
	Number          int         `json:"number" yaml:"number"`
	Conditions      []Condition `json:"conditions" yaml:"conditions"`
	PassAllRequired bool        `json:"pass_all_required" yaml:"pass_all_required"`
	PositionPercent float64     `json:"position_percent,omitempty" yaml:"position_percent,omitempty"`
	ExitPercent     float64     `json:"exit_percent,omitempty" yaml:"exit_percent,omitempty"`
	DynamicStopLoss float64     `json:"dynamic_stop_loss,omitempty" yaml:"dynamic_stop_loss,omitempty"`
	Enabled         bool        `json:"enabled" yaml:"enabled"`
}

// ProfitStage is one rung of the take-profit ladder: when the bar high
// first crosses TargetPercent above entry, ExitRatio of the position is
// sold and the effective stop ratchets to RatchetStopPercent above entry
// (0 = break-even).
type ProfitStage struct {
	TargetPercent      float64 `json:"target_percent" yaml:"target_percent"`
	ExitRatio          float64 `json:"exit_ratio,omitempty" yaml:"exit_ratio,omitempty"`
	RatchetStopPercent float64 `json:"ratchet_stop_percent" yaml:"ratchet_stop_percent"`
}

// RiskConfig holds the override exit triggers layered on top of
// indicator-driven exits.
type RiskConfig struct {
	StopLossPercent             float64       `json:"stop_loss_percent,omitempty" yaml:"stop_loss_percent,omitempty"`
	TakeProfitPercent           float64       `json:"take_profit_percent,omitempty" yaml:"take_profit_percent,omitempty"`
	TrailingStopActivatePercent float64       `json:"trailing_stop_activate_percent,omitempty" yaml:"trailing_stop_activate_percent,omitempty"`
	TrailingStopPercent         float64       `json:"trailing_stop_percent,omitempty" yaml:"trailing_stop_percent,omitempty"`
	ProfitStages                []ProfitStage `json:"profit_stages,omitempty" yaml:"profit_stages,omitempty"`
}

// Config is one complete strategy definition.
type Config struct {
	ID             string           `json:"id" yaml:"id"`
	Name           string           `json:"name" yaml:"name"`
	Symbols        []string         `json:"symbols" yaml:"symbols"`
	Timeframe      string           `json:"timeframe" yaml:"timeframe"`
	Indicators     []indicator.Spec `json:"indicators" yaml:"indicators"`
	BuyConditions  []Condition      `json:"buy_conditions" yaml:"buy_conditions"`
	SellConditions []Condition      `json:"sell_conditions" yaml:"sell_conditions"`
	BuyStages      []Stage          `json:"buy_stages,omitempty" yaml:"buy_stages,omitempty"`
	SellStages     []Stage          `json:"sell_stages,omitempty" yaml:"sell_stages,omitempty"`
	ScanMode       ScanMode         `json:"scan_mode,omitempty" yaml:"scan_mode,omitempty"`
	Risk           RiskConfig       `json:"risk" yaml:"risk"`
	UseHeikenAshi  bool             `json:"use_heiken_ashi,omitempty" yaml:"use_heiken_ashi,omitempty"`
}

// EffectiveScanMode returns the configured scan mode, defaulting to staged.
func (c *Config) EffectiveScanMode() ScanMode {
	if c.ScanMode == ScanSimple {
		return ScanSimple
	}
	return ScanStaged
}

// AllConditions returns every condition in the strategy, including stage
// conditions, in declaration order.
func (c *Config) AllConditions() []Condition {
	var out []Condition
	out = append(out, c.BuyConditions...)
	out = append(out, c.SellConditions...)
	for _, st := range c.BuyStages {
		out = append(out, st.Conditions...)
	}
	for _, st := range c.SellStages {
		out = append(out, st.Conditions...)
	}
	return out
}

// HasStages reports whether the strategy uses staged entries or exits.
func (c *Config) HasStages() bool {
	return len(c.BuyStages) > 0 || len(c.SellStages) > 0
}

// ValidOperator reports whether op is a comparison, crossover or preset
// operator the evaluator understands.
func ValidOperator(op string) bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual,
		OpCrossAbove, OpCrossBelow:
		return true
	}
	return PresetOperator(op)
}

// presetOperators is the closed catalogue of named preset operators. Each
// binds a fixed, documented threshold to an indicator family.
var presetOperators = map[string]struct{}{
	"oversold": {}, "overbought": {},
	"stoch_oversold": {}, "stoch_overbought": {},
	"macd_bullish": {}, "macd_bearish": {},
	"above_cloud": {}, "below_cloud": {},
	"band_squeeze": {}, "band_breakout_upper": {}, "band_breakout_lower": {},
	"cci_oversold": {}, "cci_overbought": {},
	"willr_oversold": {}, "willr_overbought": {},
	"adx_trending": {},
	"psar_bullish": {}, "psar_bearish": {},
}

// PresetOperator reports whether op is a named preset operator.
func PresetOperator(op string) bool {
	_, ok := presetOperators[op]
	return ok
}

// Validate performs local structural checks. Referential checks against
// indicator columns belong to preflight.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy name cannot be empty")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("strategy %s: at least one symbol required", c.Name)
	}
	for _, st := range append(append([]Stage{}, c.BuyStages...), c.SellStages...) {
		pct := st.PositionPercent
		if pct == 0 {
			pct = st.ExitPercent
		}
		if pct <= 0 || pct > 100 {
			return fmt.Errorf("strategy %s: stage %d percent must be in (0,100]", c.Name, st.Number)
		}
	}
	return nil
}
