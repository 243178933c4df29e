// Package backtest runs the per-bar simulation: it drives the indicator
// engine, the signal generator and the position manager over historical
// bars, producing a trade ledger, an equity curve and summary metrics.
package backtest

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/staged-backtester/internal/candle"
	"github.com/amirphl/staged-backtester/internal/indicator"
	"github.com/amirphl/staged-backtester/internal/position"
	"github.com/amirphl/staged-backtester/internal/signal"
	"github.com/amirphl/staged-backtester/internal/strategy"
)

// Trade is one fill in the ledger. Records are append-only and immutable
// once written. Profit fields are populated on sells only.
type Trade struct {
	ID         int       `json:"id"`
	Date       time.Time `json:"date"`
	Instrument string    `json:"instrument"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`  // execution price incl. slippage
	Amount     float64   `json:"amount"` // notional at execution price
	Commission float64   `json:"commission"`
	Profit     float64   `json:"profit,omitempty"`
	ProfitRate float64   `json:"profit_rate,omitempty"` // percent on prorated cost
	Reason     string    `json:"reason,omitempty"`
	ExitRatio  float64   `json:"exit_ratio,omitempty"`
	Stage      int       `json:"stage,omitempty"`
	Forced     bool      `json:"forced,omitempty"` // end-of-run liquidation
}

// EquityPoint is one bar's portfolio equity: cash plus mark-to-market.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// InstrumentResult is the outcome of one instrument's simulation.
type InstrumentResult struct {
	Instrument     string        `json:"instrument"`
	InitialCapital float64       `json:"initial_capital"`
	FinalCapital   float64       `json:"final_capital"`
	MaxDrawdown    float64       `json:"max_drawdown"` // percent
	Trades         []Trade       `json:"trades"`
	Equity         []EquityPoint `json:"equity"`
}

// Result is the serializable outcome of one run. Dates marshal as
// RFC 3339 strings, numeric fields as 64-bit floats.
type Result struct {
	StrategyID      string                   `json:"strategy_id"`
	StrategyName    string                   `json:"strategy_name"`
	Allocation      strategy.AllocationMode  `json:"allocation"`
	InitialCapital  float64                  `json:"initial_capital"`
	FinalCapital    float64                  `json:"final_capital"`
	TotalReturn     float64                  `json:"total_return"`
	TotalReturnRate float64                  `json:"total_return_rate"` // percent
	MaxDrawdown     float64                  `json:"max_drawdown"`      // percent
	WinRate         float64                  `json:"win_rate"`          // forced exits excluded
	Trades          []Trade                  `json:"trades"`
	DailyEquity     []EquityPoint            `json:"daily_equity"`
	Instruments     []InstrumentResult       `json:"instruments,omitempty"`
	Metrics         map[string]float64       `json:"metrics"`
	Warnings        []string                 `json:"warnings,omitempty"`
	StartedAt       time.Time                `json:"started_at"`
	FinishedAt      time.Time                `json:"finished_at"`
}

// Options is the run-level cost and capital model. Percent fields are
// human percentages (0.1 = 0.1%).
type Options struct {
	InitialCapital    float64
	CommissionPercent float64
	SlippagePercent   float64
	Allocation        strategy.AllocationMode
}

// Simulator runs strategies over pre-loaded bars. No network or disk I/O
// happens inside the per-bar loop; everything is loaded up front.
type Simulator struct {
	engine *indicator.Engine
	opts   Options
}

// NewSimulator creates a simulator around an indicator engine.
func NewSimulator(engine *indicator.Engine, opts Options) *Simulator {
	if opts.InitialCapital <= 0 {
		opts.InitialCapital = 10000
	}
	if opts.Allocation != strategy.AllocShared {
		opts.Allocation = strategy.AllocIsolated
	}
	return &Simulator{engine: engine, opts: opts}
}

// Run simulates cfg over the given bars, one entry per instrument. A
// failing instrument is skipped with a recorded warning while the rest
// proceed. Cancellation is polled once per instrument, never per bar.
func (s *Simulator) Run(ctx context.Context, cfg *strategy.Config, bars map[string][]candle.Candle) (*Result, error) {
	result := &Result{
		StrategyID:     cfg.ID,
		StrategyName:   cfg.Name,
		Allocation:     s.opts.Allocation,
		InitialCapital: s.opts.InitialCapital,
		Metrics:        make(map[string]float64),
		StartedAt:      time.Now().UTC(),
	}

	instruments := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if len(bars[sym]) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: no bars loaded, skipped", sym))
			continue
		}
		instruments = append(instruments, sym)
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("Run | no instrument has bars to simulate")
	}

	var err error
	if s.opts.Allocation == strategy.AllocShared {
		err = s.runShared(ctx, cfg, bars, instruments, result)
	} else {
		err = s.runIsolated(ctx, cfg, bars, instruments, result)
	}
	if err != nil {
		return nil, err
	}

	s.aggregate(result)
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

// runShared processes instruments sequentially against one balance.
func (s *Simulator) runShared(ctx context.Context, cfg *strategy.Config, bars map[string][]candle.Candle, instruments []string, result *Result) error {
	balance := s.opts.InitialCapital
	for _, sym := range instruments {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("Run | cancelled before %s: %w", sym, err)
		}
		run, err := s.runInstrument(cfg, sym, bars[sym], balance)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", sym, err))
			continue
		}
		balance = run.FinalCapital
		result.Instruments = append(result.Instruments, *run)
	}
	return nil
}

// runIsolated gives every instrument its own slice of capital and runs
// them concurrently; results are aggregated afterward in symbol order so
// the output stays deterministic.
func (s *Simulator) runIsolated(ctx context.Context, cfg *strategy.Config, bars map[string][]candle.Candle, instruments []string, result *Result) error {
	slice := s.opts.InitialCapital / float64(len(instruments))

	runs := make([]*InstrumentResult, len(instruments))
	errs := make([]error, len(instruments))

	var wg sync.WaitGroup
	for i, sym := range instruments {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("Run | cancelled before %s: %w", sym, err)
		}
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			runs[i], errs[i] = s.runInstrument(cfg, sym, bars[sym], slice)
		}(i, sym)
	}
	wg.Wait()

	for i, sym := range instruments {
		if errs[i] != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", sym, errs[i]))
			// the failed slice of capital is returned untouched
			result.Instruments = append(result.Instruments, InstrumentResult{
				Instrument: sym, InitialCapital: slice, FinalCapital: slice,
			})
			continue
		}
		runs[i].InitialCapital = slice
		result.Instruments = append(result.Instruments, *runs[i])
	}
	return nil
}

// runInstrument is the deterministic single-instrument state machine:
// FLAT -> buy fill -> HOLDING (staged partial fills) -> full sell -> FLAT.
// Exits are evaluated before entries on every bar.
func (s *Simulator) runInstrument(cfg *strategy.Config, sym string, candles []candle.Candle, capital float64) (*InstrumentResult, error) {
	candles = candle.Normalize(candles)
	series := indicator.NewSeries(candles)

	if cfg.UseHeikenAshi {
		ha := candle.GenerateHeikenAshiCandles(candles)
		haSeries := indicator.NewSeries(ha)
		series.SetColumn("ha_open", haSeries.Open)
		series.SetColumn("ha_high", haSeries.High)
		series.SetColumn("ha_low", haSeries.Low)
		series.SetColumn("ha_close", haSeries.Close)
	}

	if _, err := s.engine.Compute(series, cfg.Indicators); err != nil {
		return nil, fmt.Errorf("indicators: %w", err)
	}
	warmup := s.engine.WarmupBars(cfg.Indicators)

	gen := signal.NewGenerator(cfg.EffectiveScanMode())
	pm := position.NewManager(s.opts.CommissionPercent/100, s.opts.SlippagePercent/100)

	run := &InstrumentResult{
		Instrument:     sym,
		InitialCapital: capital,
		Equity:         make([]EquityPoint, 0, series.Len()),
	}
	cash := capital
	var pos *position.Position
	peak := capital

	for i := 0; i < series.Len(); i++ {
		row, prev := series.At(i), series.At(i-1)
		ts := row.Timestamp()
		high, _ := row.Value("high")
		close, _ := row.Value("close")

		// exits first: a position opened this bar never exits this bar,
		// and capital freed by an exit is available for a same-bar entry
		if pos != nil {
			signalRatio, signalReason, signalStage := 0.0, "", 0
			if sig, ok := gen.Sell(row, prev, cfg, pos.ExecutedExitStages); ok {
				signalRatio = sig.Percent / 100
				signalReason = sig.Reason
				signalStage = sig.Stage
			}
			if dec, fired := pm.EvaluateExit(pos, high, close, cfg.Risk, signalRatio, signalReason); fired {
				qty := pos.Quantity * dec.Ratio
				if signalStage > 0 {
					pos.ExecutedExitStages[signalStage] = true
				}
				var profit, proceeds float64
				var err error
				pos, profit, proceeds, err = pm.ApplySell(pos, qty, close)
				if err != nil {
					return nil, fmt.Errorf("sell at bar %d: %w", i, err)
				}
				cash += proceeds
				run.Trades = append(run.Trades, sellTrade(sym, ts, qty, close, pm, profit, proceeds, dec.Reason(), dec.Ratio, signalStage, false))
			}
		}

		if i >= warmup {
			if sig, ok := gen.Buy(row, prev, cfg, executedBuyStages(pos)); ok && s.mayBuy(pos, sig) {
				spend := cash * sig.Percent / 100
				unitCost := pm.BuyCost(1, close)
				if spend > 0 && unitCost > 0 {
					qty := spend / unitCost
					var err error
					pos, err = pm.ApplyBuy(pos, sym, qty, close, sig.Stage, sig.DynamicStopLoss, ts)
					if err != nil {
						return nil, fmt.Errorf("buy at bar %d: %w", i, err)
					}
					cash -= pm.BuyCost(qty, close)
					run.Trades = append(run.Trades, buyTrade(sym, ts, qty, close, pm, sig))
				}
			}
		}

		equity := cash + pos.MarkValue(close)
		run.Equity = append(run.Equity, EquityPoint{Date: ts, Equity: equity})
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > run.MaxDrawdown {
				run.MaxDrawdown = dd
			}
		}
	}

	// force-liquidate anything still open at the last close
	if pos != nil {
		last := series.At(series.Len() - 1)
		close, _ := last.Value("close")
		qty := pos.Quantity
		var profit, proceeds float64
		var err error
		pos, profit, proceeds, err = pm.ApplySell(pos, qty, close)
		if err != nil {
			return nil, fmt.Errorf("final liquidation: %w", err)
		}
		cash += proceeds
		run.Trades = append(run.Trades, sellTrade(sym, last.Timestamp(), qty, close, pm, profit, proceeds, "end_of_backtest", 1, 0, true))
		run.Equity[len(run.Equity)-1].Equity = cash
	}

	run.FinalCapital = cash
	log.Printf("runInstrument | %s: %d trades, final capital %.2f, max drawdown %.2f%%",
		sym, len(run.Trades), run.FinalCapital, run.MaxDrawdown)
	return run, nil
}

// mayBuy gates entries: an unstaged strategy buys only from flat. Staged
// tranches are already filtered to unexecuted stages by the generator.
func (s *Simulator) mayBuy(pos *position.Position, sig signal.Signal) bool {
	return pos == nil || sig.Stage > 0
}

// executedBuyStages is nil-safe: a flat book has no executed stages.
func executedBuyStages(pos *position.Position) map[int]bool {
	if pos == nil {
		return nil
	}
	return pos.ExecutedBuyStages
}

func buyTrade(sym string, ts time.Time, qty, price float64, pm *position.Manager, sig signal.Signal) Trade {
	execPrice := price * (1 + pm.Slippage)
	amount := qty * execPrice
	return Trade{
		Date:       ts,
		Instrument: sym,
		Side:       "buy",
		Quantity:   qty,
		Price:      execPrice,
		Amount:     amount,
		Commission: amount * pm.Commission,
		Reason:     sig.Reason,
		Stage:      sig.Stage,
	}
}

func sellTrade(sym string, ts time.Time, qty, price float64, pm *position.Manager, profit, proceeds float64, reason string, ratio float64, stage int, forced bool) Trade {
	execPrice := price * (1 - pm.Slippage)
	amount := qty * execPrice
	t := Trade{
		Date:       ts,
		Instrument: sym,
		Side:       "sell",
		Quantity:   qty,
		Price:      execPrice,
		Amount:     amount,
		Commission: amount * pm.Commission,
		Profit:     profit,
		Reason:     reason,
		ExitRatio:  ratio,
		Stage:      stage,
		Forced:     forced,
	}
	if cost := proceeds - profit; cost > 0 {
		t.ProfitRate = profit / cost * 100
	}
	return t
}

// aggregate merges the per-instrument runs into the run-level ledger,
// equity curve and headline numbers.
func (s *Simulator) aggregate(result *Result) {
	var final float64
	for _, run := range result.Instruments {
		final += run.FinalCapital
		result.Trades = append(result.Trades, run.Trades...)
		if run.MaxDrawdown > result.MaxDrawdown {
			result.MaxDrawdown = run.MaxDrawdown
		}
	}
	if result.Allocation == strategy.AllocShared && len(result.Instruments) > 0 {
		// sequential runs: the last balance is the final capital
		final = result.Instruments[len(result.Instruments)-1].FinalCapital
	}

	sort.SliceStable(result.Trades, func(i, j int) bool {
		return result.Trades[i].Date.Before(result.Trades[j].Date)
	})
	for i := range result.Trades {
		result.Trades[i].ID = i + 1
	}

	result.DailyEquity = mergeEquity(result.Instruments, result.Allocation)
	result.FinalCapital = final
	result.TotalReturn = final - result.InitialCapital
	if result.InitialCapital > 0 {
		result.TotalReturnRate = result.TotalReturn / result.InitialCapital * 100
	}
	result.WinRate = winRate(result.Trades)
	computeMetrics(result)
}

// mergeEquity combines instrument equity curves: isolated runs sum equity
// per timestamp, shared runs concatenate in processing order.
func mergeEquity(runs []InstrumentResult, alloc strategy.AllocationMode) []EquityPoint {
	if alloc == strategy.AllocShared {
		var out []EquityPoint
		for _, run := range runs {
			out = append(out, run.Equity...)
		}
		return out
	}

	byTime := make(map[int64]float64)
	for _, run := range runs {
		for _, p := range run.Equity {
			byTime[p.Date.UnixNano()] += p.Equity
		}
	}
	out := make([]EquityPoint, 0, len(byTime))
	for ns, eq := range byTime {
		out = append(out, EquityPoint{Date: time.Unix(0, ns).UTC(), Equity: eq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// winRate is the share of profitable sells, excluding forced end-of-run
// liquidations.
func winRate(trades []Trade) float64 {
	wins, total := 0, 0
	for _, t := range trades {
		if t.Side != "sell" || t.Forced {
			continue
		}
		total++
		if t.Profit > 0 {
			wins++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}
