// Package indicator provides the technical indicators strategies compute
// over bar history. All functions operate on the trailing window of the
// given bars, newest bar last, and return 0 when the history is too short.
package indicator

import (
	"github.com/deepterminal/deepterminal/internal/types"
)

// SMA returns the simple moving average of the closes over the trailing
// period bars.
func SMA(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}

	return sum / float64(period)
}

// EMA returns the exponential moving average of the closes, seeded with the
// SMA of the first period bars.
func EMA(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	ema := SMA(bars[:period], period)
	multiplier := 2.0 / (float64(period) + 1.0)

	for i := period; i < len(bars); i++ {
		ema = (bars[i].Close-ema)*multiplier + ema
	}

	return ema
}

// RSI returns the relative strength index over the trailing period, using
// Wilder's smoothing. A history of flat closes reports 50.
func RSI(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	gains := 0.0
	losses := 0.0

	start := len(bars) - period

	for i := start; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	if gains+losses == 0 {
		return 50
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs)
}

// ATR returns the average true range over the trailing period.
func ATR(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	sum := 0.0
	start := len(bars) - period

	for i := start; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1])
	}

	return sum / float64(period)
}

func trueRange(current, previous types.Bar) float64 {
	highLow := current.High - current.Low
	highClose := abs(current.High - previous.Close)
	lowClose := abs(current.Low - previous.Close)

	tr := highLow
	if highClose > tr {
		tr = highClose
	}

	if lowClose > tr {
		tr = lowClose
	}

	return tr
}

func abs(value float64) float64 {
	if value < 0 {
		return -value
	}

	return value
}
