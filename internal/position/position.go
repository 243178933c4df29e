// Package position owns open-position state and the fill math of the
// simulator: buy/sell cost basis, the stop and take-profit override
// triggers, the staged take-profit ratchet and the trailing stop.
package position

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/amirphl/staged-backtester/internal/strategy"
)

// Position is one open holding. It is owned exclusively by the Manager,
// mutated on every fill and ladder update, and dropped when quantity
// reaches zero.
type Position struct {
	Instrument string    `json:"instrument"`
	Quantity   float64   `json:"quantity"`
	AvgPrice   float64   `json:"avg_price"`
	TotalCost  float64   `json:"total_cost"`
	EntryDate  time.Time `json:"entry_date"`

	ExecutedBuyStages  map[int]bool `json:"executed_buy_stages,omitempty"`
	ExecutedExitStages map[int]bool `json:"executed_exit_stages,omitempty"`

	// HighestStageReached keys the take-profit ratchet. It never decreases.
	HighestStageReached int     `json:"highest_stage_reached"`
	DynamicStopLoss     float64 `json:"dynamic_stop_loss,omitempty"` // percent below avg, 0 = unset
	RatchetStop         float64 `json:"ratchet_stop,omitempty"`      // absolute price, 0 = unset
	PeakPrice           float64 `json:"peak_price,omitempty"`        // trailing peak, 0 = not armed
}

// MarkValue returns the mark-to-market value of the position at price.
func (p *Position) MarkValue(price float64) float64 {
	if p == nil {
		return 0
	}
	return p.Quantity * price
}

// ExitDecision is the resolved exit for one bar. Hard exits always
// liquidate the full position.
type ExitDecision struct {
	Ratio   float64
	Reasons []string
	Hard    bool
}

// Reason joins the OR-combined exit reasons for the trade record.
func (d ExitDecision) Reason() string {
	return strings.Join(d.Reasons, "|")
}

// Manager applies fills and per-bar risk checks. Commission and slippage
// are non-negative fractions of trade notional, fixed per run.
type Manager struct {
	Commission float64
	Slippage   float64
}

// NewManager creates a position manager with the given cost model.
func NewManager(commission, slippage float64) *Manager {
	if commission < 0 || slippage < 0 {
		log.Printf("Position | negative cost model (commission=%f slippage=%f) clamped to zero", commission, slippage)
		commission = math.Max(commission, 0)
		slippage = math.Max(slippage, 0)
	}
	return &Manager{Commission: commission, Slippage: slippage}
}

// BuyCost returns the cash required to buy qty at price under the cost
// model: execPrice = price*(1+slippage), cost = qty*execPrice*(1+commission).
func (m *Manager) BuyCost(qty, price float64) float64 {
	execPrice := price * (1 + m.Slippage)
	return qty * execPrice * (1 + m.Commission)
}

// SellProceeds returns the cash received for selling qty at price:
// execPrice = price*(1−slippage), proceeds = qty*execPrice*(1−commission).
func (m *Manager) SellProceeds(qty, price float64) float64 {
	execPrice := price * (1 - m.Slippage)
	return qty * execPrice * (1 - m.Commission)
}

// ApplyBuy fills a buy. A nil position opens a new one; otherwise the fill
// averages in, recomputing AvgPrice as a quantity-weighted mean. stage is
// the entry stage number (0 for unstaged entries) and dynamicStop the
// stage's dynamic stop-loss percent (0 = none).
func (m *Manager) ApplyBuy(pos *Position, instrument string, qty, price float64, stage int, dynamicStop float64, at time.Time) (*Position, error) {
	if qty <= 0 || price <= 0 {
		return pos, fmt.Errorf("ApplyBuy | invalid fill qty=%f price=%f", qty, price)
	}
	cost := m.BuyCost(qty, price)

	if pos == nil {
		pos = &Position{
			Instrument:         instrument,
			EntryDate:          at,
			ExecutedBuyStages:  make(map[int]bool),
			ExecutedExitStages: make(map[int]bool),
		}
	}

	newQty := pos.Quantity + qty
	pos.AvgPrice = (pos.AvgPrice*pos.Quantity + price*(1+m.Slippage)*qty) / newQty
	pos.Quantity = newQty
	pos.TotalCost += cost

	if stage > 0 {
		pos.ExecutedBuyStages[stage] = true
	}
	if dynamicStop > 0 {
		pos.DynamicStopLoss = dynamicStop
	}
	return pos, nil
}

// ApplySell fills a sell of qty out of pos. The realized profit prorates
// TotalCost by sellQty/positionQty so the cost basis stays exact under
// repeated partial fills. Returns the surviving position (nil when fully
// closed), the realized profit and the cash proceeds.
func (m *Manager) ApplySell(pos *Position, qty, price float64) (*Position, float64, float64, error) {
	if pos == nil || pos.Quantity <= 0 {
		return nil, 0, 0, fmt.Errorf("ApplySell | no open position")
	}
	if qty <= 0 || price <= 0 {
		return pos, 0, 0, fmt.Errorf("ApplySell | invalid fill qty=%f price=%f", qty, price)
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}

	proceeds := m.SellProceeds(qty, price)
	proratedCost := pos.TotalCost * qty / pos.Quantity
	profit := proceeds - proratedCost

	pos.Quantity -= qty
	pos.TotalCost -= proratedCost
	if pos.Quantity <= 1e-12 {
		return nil, profit, proceeds, nil
	}
	return pos, profit, proceeds, nil
}

// EvaluateExit resolves the exit (if any) for one bar. It first updates
// the ladder and trailing state from the bar, then resolves in order:
// hard stops (fixed, dynamic, ratcheted, trailing) exit 100%; otherwise
// the exit ratio is the max of the indicator-signal ratio and the
// profit-target ratio, with reasons OR-combined.
//
// signalRatio is the indicator-driven exit fraction in (0,1] with its
// reason, or 0 when no sell signal fired this bar.
func (m *Manager) EvaluateExit(pos *Position, high, close float64, risk strategy.RiskConfig, signalRatio float64, signalReason string) (ExitDecision, bool) {
	if pos == nil || pos.Quantity <= 0 {
		return ExitDecision{}, false
	}

	profitRatio, profitReason := m.updateLadder(pos, high, risk)
	trailingFired := m.updateTrailing(pos, close, risk)

	if stopReason, fired := m.stopHit(pos, close, risk); fired {
		return ExitDecision{Ratio: 1, Reasons: []string{stopReason}, Hard: true}, true
	}
	if trailingFired {
		return ExitDecision{Ratio: 1, Reasons: []string{"trailing_stop"}, Hard: true}, true
	}

	// flat take-profit is a full-exit profit target
	if risk.TakeProfitPercent > 0 && close >= pos.AvgPrice*(1+risk.TakeProfitPercent/100) {
		profitRatio = 1
		profitReason = "take_profit"
	}

	ratio := math.Max(signalRatio, profitRatio)
	if ratio <= 0 {
		return ExitDecision{}, false
	}
	ratio = math.Min(ratio, 1)

	var reasons []string
	if signalRatio > 0 && signalReason != "" {
		reasons = append(reasons, signalReason)
	}
	if profitRatio > 0 && profitReason != "" {
		reasons = append(reasons, profitReason)
	}
	return ExitDecision{Ratio: ratio, Reasons: reasons}, true
}

// updateLadder advances the take-profit ladder when the bar high first
// crosses a stage's target. The effective stop ratchets per stage config
// (RatchetStopPercent 0 means break-even at AvgPrice). Returns the
// newly-triggered stage's exit ratio, if any.
func (m *Manager) updateLadder(pos *Position, high float64, risk strategy.RiskConfig) (float64, string) {
	var ratio float64
	var reason string
	for i, st := range risk.ProfitStages {
		stageNum := i + 1
		if stageNum <= pos.HighestStageReached {
			continue
		}
		target := pos.AvgPrice * (1 + st.TargetPercent/100)
		if high < target {
			break
		}
		pos.HighestStageReached = stageNum
		pos.RatchetStop = pos.AvgPrice * (1 + st.RatchetStopPercent/100)
		if st.ExitRatio > ratio {
			ratio = st.ExitRatio
			reason = fmt.Sprintf("profit_stage_%d", stageNum)
		}
	}
	return ratio, reason
}

// updateTrailing arms the trailing stop once close crosses the activation
// threshold, tracks the running peak on closes, and reports a fire on
// sufficient retracement from the peak.
func (m *Manager) updateTrailing(pos *Position, close float64, risk strategy.RiskConfig) bool {
	if risk.TrailingStopPercent <= 0 {
		return false
	}
	if pos.PeakPrice == 0 {
		if close >= pos.AvgPrice*(1+risk.TrailingStopActivatePercent/100) {
			pos.PeakPrice = close
		}
		return false
	}
	if close > pos.PeakPrice {
		pos.PeakPrice = close
		return false
	}
	return close <= pos.PeakPrice*(1-risk.TrailingStopPercent/100)
}

// stopHit checks the hard stop levels: the fixed stop-loss percent, the
// stage dynamic stop and the ratcheted ladder stop. The tightest
// (highest) level wins.
func (m *Manager) stopHit(pos *Position, close float64, risk strategy.RiskConfig) (string, bool) {
	level := 0.0
	reason := ""
	if risk.StopLossPercent > 0 {
		level = pos.AvgPrice * (1 - risk.StopLossPercent/100)
		reason = "stop_loss"
	}
	if pos.DynamicStopLoss > 0 {
		if l := pos.AvgPrice * (1 - pos.DynamicStopLoss/100); l > level {
			level = l
			reason = "dynamic_stop_loss"
		}
	}
	if pos.RatchetStop > 0 && pos.RatchetStop > level {
		level = pos.RatchetStop
		reason = "ratchet_stop"
	}
	if level <= 0 {
		return "", false
	}
	return reason, close <= level
}
