// Package condition evaluates one strategy condition against the current
// and previous bar of the working table. Unresolved references fail
// closed (false, logged once per run) rather than aborting the run.
package condition

import (
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/amirphl/staged-backtester/internal/indicator"
	"github.com/amirphl/staged-backtester/internal/strategy"
)

// Evaluator resolves and evaluates conditions. It is stateful only in
// its warn-once bookkeeping; create one per instrument run.
type Evaluator struct {
	warned map[string]bool
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{warned: make(map[string]bool)}
}

// Evaluate evaluates one condition. prev must be the row immediately
// before row (pass s.At(i-1); an out-of-range row is fine for bar 0).
// NaN operands and unresolved references short-circuit to false.
func (e *Evaluator) Evaluate(row, prev indicator.Row, cond strategy.Condition) bool {
	if strategy.PresetOperator(cond.Operator) {
		return e.evalPreset(row, prev, cond)
	}

	lhs, ok := e.resolve(row, cond.Indicator)
	if !ok || math.IsNaN(lhs) {
		return false
	}
	rhs, ok := e.resolveCompareTo(row, cond.CompareTo)
	if !ok || math.IsNaN(rhs) {
		return false
	}

	switch cond.Operator {
	case strategy.OpGreater:
		return lhs > rhs
	case strategy.OpLess:
		return lhs < rhs
	case strategy.OpGreaterEqual:
		return lhs >= rhs
	case strategy.OpLessEqual:
		return lhs <= rhs
	case strategy.OpEqual:
		return lhs == rhs
	case strategy.OpCrossAbove, strategy.OpCrossBelow:
		prevLhs, ok := e.resolve(prev, cond.Indicator)
		if !ok || math.IsNaN(prevLhs) {
			return false
		}
		prevRhs, ok := e.resolveCompareTo(prev, cond.CompareTo)
		if !ok || math.IsNaN(prevRhs) {
			return false
		}
		if cond.Operator == strategy.OpCrossAbove {
			return prevLhs <= prevRhs && lhs > rhs
		}
		return prevLhs >= prevRhs && lhs < rhs
	}

	e.warnOnce("op:"+cond.Operator, "Evaluate | unknown operator %q, condition fails closed", cond.Operator)
	return false
}

// resolve looks a reference up by exact name first, then retries with
// known numeric suffixes stripped one group at a time (rsi_14 -> rsi).
func (e *Evaluator) resolve(row indicator.Row, name string) (float64, bool) {
	if name == "" {
		return math.NaN(), false
	}
	candidate := name
	for {
		if v, ok := row.Value(candidate); ok {
			return v, true
		}
		idx := strings.LastIndex(candidate, "_")
		if idx <= 0 {
			break
		}
		if _, err := strconv.ParseFloat(candidate[idx+1:], 64); err != nil {
			break
		}
		candidate = candidate[:idx]
	}
	if row.Valid() {
		e.warnOnce("ref:"+name, "Evaluate | unresolved indicator reference %q, condition fails closed", name)
	}
	return math.NaN(), false
}

func (e *Evaluator) resolveCompareTo(row indicator.Row, cmp strategy.CompareTo) (float64, bool) {
	if cmp.IsIndicator() {
		return e.resolve(row, cmp.Indicator)
	}
	if cmp.Value == nil {
		return math.NaN(), false
	}
	return *cmp.Value, true
}

func (e *Evaluator) warnOnce(key, format string, args ...any) {
	if e.warned[key] {
		return
	}
	e.warned[key] = true
	log.Printf(format, args...)
}
