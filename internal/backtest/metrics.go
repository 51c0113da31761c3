package backtest

import (
	"math"

	"github.com/deepterminal/deepterminal/internal/types"
)

// tradingDaysPerYear is the annualization convention for returns and Sharpe.
const tradingDaysPerYear = 252

// Metrics summarizes a finished replay.
type Metrics struct {
	TotalReturnPct      float64 `json:"total_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	WinRate             float64 `json:"win_rate"`
	ProfitFactor        float64 `json:"profit_factor"`
	TotalTrades         int     `json:"total_trades"`
	WinningTrades       int     `json:"winning_trades"`
	LosingTrades        int     `json:"losing_trades"`
	RealizedPnL         float64 `json:"realized_pnl"`
}

// computeMetrics derives performance metrics from the equity curve, the daily
// return series, and the closed trades.
func computeMetrics(curve []EquityPoint, dailyReturns []float64, trades []types.Trade, initialBalance float64) Metrics {
	metrics := Metrics{}

	if len(curve) > 0 && initialBalance > 0 {
		final := curve[len(curve)-1].Equity
		metrics.TotalReturnPct = (final - initialBalance) / initialBalance * 100
		metrics.AnnualizedReturnPct = annualizedReturn(metrics.TotalReturnPct/100, len(dailyReturns)) * 100
	}

	metrics.SharpeRatio = sharpeRatio(dailyReturns)
	metrics.MaxDrawdownPct = maxDrawdown(curve) * 100

	for _, trade := range trades {
		metrics.TotalTrades++
		metrics.RealizedPnL += trade.RealizedPnL

		if trade.IsWin() {
			metrics.WinningTrades++
		} else {
			metrics.LosingTrades++
		}
	}

	if metrics.TotalTrades > 0 {
		metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	}

	metrics.ProfitFactor = profitFactor(trades)

	return metrics
}

// annualizedReturn converts a total return over the given number of trading
// days to a 252-day annual rate.
func annualizedReturn(totalReturn float64, days int) float64 {
	if days <= 0 || totalReturn <= -1 {
		return 0
	}

	return math.Pow(1+totalReturn, tradingDaysPerYear/float64(days)) - 1
}

// sharpeRatio annualizes mean/stdev of the daily returns. A series with zero
// variance has no meaningful Sharpe and reports 0.
func sharpeRatio(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range dailyReturns {
		mean += r
	}
	mean /= float64(len(dailyReturns))

	variance := 0.0
	for _, r := range dailyReturns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(dailyReturns) - 1)

	if variance == 0 {
		return 0
	}

	return mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown returns the largest peak-to-trough equity fraction.
func maxDrawdown(curve []EquityPoint) float64 {
	peak := math.Inf(-1)
	worst := 0.0

	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}

		if peak > 0 {
			drawdown := (peak - point.Equity) / peak
			if drawdown > worst {
				worst = drawdown
			}
		}
	}

	return worst
}

// profitFactor is gross profit over gross loss. All-winning trade lists
// report 0 rather than infinity.
func profitFactor(trades []types.Trade) float64 {
	grossProfit := 0.0
	grossLoss := 0.0

	for _, trade := range trades {
		if trade.RealizedPnL > 0 {
			grossProfit += trade.RealizedPnL
		} else {
			grossLoss += -trade.RealizedPnL
		}
	}

	if grossLoss == 0 {
		return 0
	}

	return grossProfit / grossLoss
}
