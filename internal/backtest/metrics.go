package backtest

import "math"

// computeMetrics derives the summary statistics from the merged ledger.
// Keys are stable; consumers index them by name.
func computeMetrics(result *Result) {
	var (
		winPnls, lossPnls []float64
		sells, forced     int
		exitReasonCount   = map[string]int{}
	)

	for _, t := range result.Trades {
		if t.Side != "sell" {
			continue
		}
		sells++
		if t.Forced {
			forced++
			continue
		}
		if t.Profit > 0 {
			winPnls = append(winPnls, t.Profit)
		} else {
			lossPnls = append(lossPnls, t.Profit)
		}
		exitReasonCount[t.Reason]++
	}

	m := result.Metrics
	m["trades"] = float64(len(result.Trades))
	m["sells"] = float64(sells)
	m["forced_exits"] = float64(forced)
	m["wins"] = float64(len(winPnls))
	m["losses"] = float64(len(lossPnls))
	m["win_rate"] = result.WinRate
	m["total_return"] = result.TotalReturn
	m["percent_return"] = result.TotalReturnRate
	m["max_drawdown"] = result.MaxDrawdown

	avgWin := mean(winPnls)
	avgLoss := mean(lossPnls)
	if len(winPnls) > 0 {
		m["avg_win"] = avgWin
	}
	if len(lossPnls) > 0 {
		m["avg_loss"] = avgLoss
	}
	if avgLoss != 0 {
		m["profit_factor"] = -avgWin / avgLoss
	}

	all := append(append([]float64{}, winPnls...), lossPnls...)
	if len(all) > 0 {
		meanPnl := mean(all)
		m["mean_pnl"] = meanPnl

		variance := 0.0
		for _, p := range all {
			variance += (p - meanPnl) * (p - meanPnl)
		}
		stdPnl := math.Sqrt(variance / float64(len(all)))
		m["std_pnl"] = stdPnl
		if stdPnl > 0 {
			m["sharpe"] = meanPnl / stdPnl
		}

		winRate := result.WinRate / 100
		m["expectancy"] = winRate*avgWin + (1-winRate)*avgLoss
	}

	m["max_consecutive_wins"], m["max_consecutive_losses"] = consecutiveRuns(result.Trades)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// consecutiveRuns walks the time-ordered ledger counting the longest win
// and loss streaks over non-forced sells.
func consecutiveRuns(trades []Trade) (float64, float64) {
	var wins, losses, maxWins, maxLosses int
	for _, t := range trades {
		if t.Side != "sell" || t.Forced {
			continue
		}
		if t.Profit > 0 {
			wins++
			losses = 0
		} else {
			losses++
			wins = 0
		}
		if wins > maxWins {
			maxWins = wins
		}
		if losses > maxLosses {
			maxLosses = losses
		}
	}
	return float64(maxWins), float64(maxLosses)
}
