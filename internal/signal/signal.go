// Package signal turns strategy condition lists and staged ladders into
// per-bar entry/exit signals. It owns the fold semantics of condition
// lists and the two stage scan modes; position sizing and execution live
// in the position and backtest packages.
package signal

import (
	"fmt"
	"sort"
	"time"

	"github.com/amirphl/staged-backtester/internal/condition"
	"github.com/amirphl/staged-backtester/internal/indicator"
	"github.com/amirphl/staged-backtester/internal/strategy"
)

// Side distinguishes entry from exit signals.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Signal is one actionable per-bar decision. Percent is a percentage of
// available capital for buys and of the held quantity for sells.
type Signal struct {
	Side            Side
	Percent         float64
	Stage           int // 0 for plain (non-staged) condition lists
	DynamicStopLoss float64
	Reason          string
	Timestamp       time.Time
}

// StageHit records one satisfied stage during a ladder scan.
type StageHit struct {
	Stage   strategy.Stage
	Percent float64
}

// Generator evaluates a strategy's conditions bar by bar. One generator
// per instrument run; it carries the condition evaluator's warn-once
// state across bars.
type Generator struct {
	eval *condition.Evaluator
	mode strategy.ScanMode
}

// NewGenerator creates a signal generator using the given scan mode.
func NewGenerator(mode strategy.ScanMode) *Generator {
	if mode != strategy.ScanSimple {
		mode = strategy.ScanStaged
	}
	return &Generator{eval: condition.NewEvaluator(), mode: mode}
}

// EvaluateConditions folds an ordered condition list left to right. Each
// condition combines with the running result via its CombineWith ("and"
// by default). An empty list yields false: no conditions, no signal.
func (g *Generator) EvaluateConditions(row, prev indicator.Row, conds []strategy.Condition) bool {
	if len(conds) == 0 {
		return false
	}
	result := g.eval.Evaluate(row, prev, conds[0])
	for _, c := range conds[1:] {
		if c.CombineWith == strategy.CombineOr {
			result = result || g.eval.Evaluate(row, prev, c)
		} else {
			result = result && g.eval.Evaluate(row, prev, c)
		}
	}
	return result
}

// stagePass evaluates one stage's own conditions. PassAllRequired true is
// an AND fold that stops at the first failure; false is an OR fold that
// stops at the first success.
func (g *Generator) stagePass(row, prev indicator.Row, st strategy.Stage) bool {
	if len(st.Conditions) == 0 {
		return false
	}
	for _, c := range st.Conditions {
		pass := g.eval.Evaluate(row, prev, c)
		if st.PassAllRequired && !pass {
			return false
		}
		if !st.PassAllRequired && pass {
			return true
		}
	}
	return st.PassAllRequired
}

// StagesPassed scans the ladder in stage order and returns the satisfied
// stages. In simple mode the scan terminates at the first failing enabled
// stage; in staged mode every enabled stage is checked. Disabled stages
// are skipped in both modes.
func (g *Generator) StagesPassed(row, prev indicator.Row, stages []strategy.Stage, percentOf func(strategy.Stage) float64) []StageHit {
	ordered := make([]strategy.Stage, len(stages))
	copy(ordered, stages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	var hits []StageHit
	for _, st := range ordered {
		if !st.Enabled {
			continue
		}
		if g.stagePass(row, prev, st) {
			hits = append(hits, StageHit{Stage: st, Percent: percentOf(st)})
		} else if g.mode == strategy.ScanSimple {
			break
		}
	}
	return hits
}

// pick applies the ladder convention: the highest numbered satisfied
// stage that has not yet executed wins. Executed stages are skipped, so
// a lower satisfied stage can still fire after a higher one already has.
func pick(hits []StageHit, executed map[int]bool) (StageHit, bool) {
	for i := len(hits) - 1; i >= 0; i-- {
		if !executed[hits[i].Stage.Number] {
			return hits[i], true
		}
	}
	return StageHit{}, false
}

// Buy evaluates the strategy's entry logic at row. Staged strategies scan
// the buy ladder, skipping already-executed stages; otherwise the flat
// buy condition list fires a full (100%) entry.
func (g *Generator) Buy(row, prev indicator.Row, cfg *strategy.Config, executed map[int]bool) (Signal, bool) {
	if len(cfg.BuyStages) > 0 {
		hits := g.StagesPassed(row, prev, cfg.BuyStages, func(st strategy.Stage) float64 {
			return st.PositionPercent
		})
		hit, ok := pick(hits, executed)
		if !ok {
			return Signal{}, false
		}
		return Signal{
			Side:            SideBuy,
			Percent:         hit.Percent,
			Stage:           hit.Stage.Number,
			DynamicStopLoss: hit.Stage.DynamicStopLoss,
			Reason:          fmt.Sprintf("buy stage %d", hit.Stage.Number),
			Timestamp:       row.Timestamp(),
		}, true
	}

	if !g.EvaluateConditions(row, prev, cfg.BuyConditions) {
		return Signal{}, false
	}
	return Signal{
		Side:      SideBuy,
		Percent:   100,
		Reason:    "buy conditions",
		Timestamp: row.Timestamp(),
	}, true
}

// Sell evaluates the strategy's indicator-driven exit logic at row,
// skipping already-executed exit stages. The returned percent is the
// fraction of the held position to liquidate.
func (g *Generator) Sell(row, prev indicator.Row, cfg *strategy.Config, executed map[int]bool) (Signal, bool) {
	if len(cfg.SellStages) > 0 {
		hits := g.StagesPassed(row, prev, cfg.SellStages, func(st strategy.Stage) float64 {
			return st.ExitPercent
		})
		hit, ok := pick(hits, executed)
		if !ok {
			return Signal{}, false
		}
		return Signal{
			Side:      SideSell,
			Percent:   hit.Percent,
			Stage:     hit.Stage.Number,
			Reason:    fmt.Sprintf("sell stage %d", hit.Stage.Number),
			Timestamp: row.Timestamp(),
		}, true
	}

	if !g.EvaluateConditions(row, prev, cfg.SellConditions) {
		return Signal{}, false
	}
	return Signal{
		Side:      SideSell,
		Percent:   100,
		Reason:    "sell conditions",
		Timestamp: row.Timestamp(),
	}, true
}
