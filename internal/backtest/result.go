package backtest

import (
	"fmt"
	"math"
	"strings"
)

// weeksPerYear annualizes the per-trade Sharpe ratio for a weekly strategy.
const weeksPerYear = 52

// Result aggregates the performance of one backtest run.
type Result struct {
	Strategy       string
	Period         string
	InitialCapital float64
	FinalCapital   float64

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	TotalPnL       float64
	TotalReturnPct float64
	AvgTradePnL    float64
	AvgProfit      float64
	AvgLoss        float64
	BestTrade      float64
	WorstTrade     float64

	MaxDrawdown    float64
	MaxDrawdownPct float64
	SharpeRatio    float64
	ProfitFactor   float64

	ExitReasons map[string]int
}

func (b *Backtester) computeResult() *Result {
	res := &Result{
		Strategy:       string(b.kind),
		Period:         fmt.Sprintf("%s to %s", b.from.Format("2006-01-02"), b.to.Format("2006-01-02")),
		InitialCapital: b.initialCapital,
		FinalCapital:   round2(b.capital),
		TotalTrades:    len(b.trades),
		ExitReasons:    make(map[string]int),
	}
	if len(b.trades) == 0 {
		return res
	}

	var totalProfit, totalLoss float64
	pnls := make([]float64, 0, len(b.trades))
	res.BestTrade = math.Inf(-1)
	res.WorstTrade = math.Inf(1)
	for _, trade := range b.trades {
		pnl := trade.NetPnL
		pnls = append(pnls, pnl)
		res.TotalPnL += pnl
		res.ExitReasons[trade.ExitReason]++
		if pnl > 0 {
			res.WinningTrades++
			totalProfit += pnl
		} else {
			res.LosingTrades++
			totalLoss += -pnl
		}
		res.BestTrade = math.Max(res.BestTrade, pnl)
		res.WorstTrade = math.Min(res.WorstTrade, pnl)
	}

	res.TotalPnL = round2(res.TotalPnL)
	res.WinRate = round2(float64(res.WinningTrades) / float64(res.TotalTrades) * 100)
	res.AvgTradePnL = round2(res.TotalPnL / float64(res.TotalTrades))
	res.TotalReturnPct = round2(res.TotalPnL / b.initialCapital * 100)
	if res.WinningTrades > 0 {
		res.AvgProfit = round2(totalProfit / float64(res.WinningTrades))
	}
	if res.LosingTrades > 0 {
		res.AvgLoss = round2(totalLoss / float64(res.LosingTrades))
	}
	if totalLoss > 0 {
		res.ProfitFactor = round2(totalProfit / totalLoss)
	} else if totalProfit > 0 {
		res.ProfitFactor = math.Inf(1)
	}

	res.MaxDrawdown, res.MaxDrawdownPct = maxDrawdown(b.equity)
	res.SharpeRatio = sharpeRatio(pnls)
	return res
}

// maxDrawdown returns the largest peak-to-trough fall of the equity curve,
// absolute and as a percentage of the peak.
func maxDrawdown(equity []float64) (float64, float64) {
	var maxDD, maxDDPct float64
	peak := math.Inf(-1)
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		dd := peak - v
		if dd > maxDD {
			maxDD = dd
			if peak > 0 {
				maxDDPct = dd / peak * 100
			}
		}
	}
	return round2(maxDD), round2(maxDDPct)
}

// sharpeRatio annualizes the per-trade mean-to-deviation ratio assuming one
// trade per week. Fewer than two trades, or a flat series, give zero.
func sharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	var mean float64
	for _, p := range pnls {
		mean += p
	}
	mean /= float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(len(pnls) - 1)
	if variance == 0 {
		return 0
	}
	return round2(mean / math.Sqrt(variance) * math.Sqrt(weeksPerYear))
}

// Report renders the run summary for the console.
func (r *Result) Report() string {
	var sb strings.Builder
	line := strings.Repeat("=", 52)

	fmt.Fprintf(&sb, "%s\n", line)
	fmt.Fprintf(&sb, " Backtest Report: %s\n", r.Strategy)
	fmt.Fprintf(&sb, " Period: %s\n", r.Period)
	fmt.Fprintf(&sb, "%s\n", line)
	fmt.Fprintf(&sb, " Initial capital : ₹%.2f\n", r.InitialCapital)
	fmt.Fprintf(&sb, " Final capital   : ₹%.2f\n", r.FinalCapital)
	fmt.Fprintf(&sb, " Total P&L       : ₹%.2f (%.2f%%)\n", r.TotalPnL, r.TotalReturnPct)
	fmt.Fprintf(&sb, " Trades          : %d (%d wins / %d losses, %.1f%% win rate)\n",
		r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate)
	if r.TotalTrades > 0 {
		fmt.Fprintf(&sb, " Avg trade P&L   : ₹%.2f\n", r.AvgTradePnL)
		fmt.Fprintf(&sb, " Avg win / loss  : ₹%.2f / ₹%.2f\n", r.AvgProfit, r.AvgLoss)
		fmt.Fprintf(&sb, " Best / worst    : ₹%.2f / ₹%.2f\n", r.BestTrade, r.WorstTrade)
		fmt.Fprintf(&sb, " Max drawdown    : ₹%.2f (%.2f%%)\n", r.MaxDrawdown, r.MaxDrawdownPct)
		fmt.Fprintf(&sb, " Sharpe ratio    : %.2f\n", r.SharpeRatio)
		fmt.Fprintf(&sb, " Profit factor   : %.2f\n", r.ProfitFactor)
		fmt.Fprintf(&sb, " Exits           : %d target / %d stoploss / %d eod\n",
			r.ExitReasons[ExitTarget], r.ExitReasons[ExitStopLoss], r.ExitReasons[ExitEOD])
	}
	fmt.Fprintf(&sb, "%s\n", line)
	return sb.String()
}
