package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Result is the output of a finished replay.
type Result struct {
	Strategy       string        `json:"strategy"`
	StartDate      time.Time     `json:"start_date"`
	EndDate        time.Time     `json:"end_date"`
	InitialBalance float64       `json:"initial_balance"`
	FinalEquity    float64       `json:"final_equity"`
	Metrics        Metrics       `json:"metrics"`
	Trades         []types.Trade `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
}

// WriteJSON writes the result as an indented JSON document.
func (r *Result) WriteJSON(path string) error {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeBacktestResultError, "failed to marshal result", err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrapf(errors.ErrCodeBacktestResultError, err, "failed to write result to %s", path)
	}

	return nil
}

// WriteEquityCSV writes the equity curve as time,equity rows for plotting.
func (r *Result) WriteEquityCSV(path string) error {
	var sb strings.Builder

	sb.WriteString("time,equity\n")

	for _, point := range r.EquityCurve {
		fmt.Fprintf(&sb, "%s,%.2f\n", point.Time.Format(time.RFC3339), point.Equity)
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return errors.Wrapf(errors.ErrCodeBacktestResultError, err, "failed to write equity curve to %s", path)
	}

	return nil
}

// Summary renders a short human-readable report.
func (r *Result) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Strategy:          %s\n", r.Strategy)
	fmt.Fprintf(&sb, "Period:            %s .. %s\n",
		r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Initial balance:   %.2f\n", r.InitialBalance)
	fmt.Fprintf(&sb, "Final equity:      %.2f\n", r.FinalEquity)
	fmt.Fprintf(&sb, "Total return:      %.2f%%\n", r.Metrics.TotalReturnPct)
	fmt.Fprintf(&sb, "Annualized return: %.2f%%\n", r.Metrics.AnnualizedReturnPct)
	fmt.Fprintf(&sb, "Sharpe ratio:      %.2f\n", r.Metrics.SharpeRatio)
	fmt.Fprintf(&sb, "Max drawdown:      %.2f%%\n", r.Metrics.MaxDrawdownPct)
	fmt.Fprintf(&sb, "Trades:            %d (%d wins, %d losses)\n",
		r.Metrics.TotalTrades, r.Metrics.WinningTrades, r.Metrics.LosingTrades)
	fmt.Fprintf(&sb, "Win rate:          %.1f%%\n", r.Metrics.WinRate*100)
	fmt.Fprintf(&sb, "Realized PnL:      %.2f\n", r.Metrics.RealizedPnL)

	return sb.String()
}
