package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deepterminal/deepterminal/internal/types"
)

func barsFor(closes ...float64) []types.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, len(closes))

	for i, c := range closes {
		bars = append(bars, types.Bar{
			Symbol: "AAPL",
			Time:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		})
	}

	return bars
}

func TestSMA(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{
			name:   "trailing window",
			closes: []float64{1, 2, 3, 4, 5},
			period: 3,
			want:   4,
		},
		{
			name:   "full history",
			closes: []float64{10, 20, 30},
			period: 3,
			want:   20,
		},
		{
			name:   "insufficient history",
			closes: []float64{10, 20},
			period: 3,
			want:   0,
		},
		{
			name:   "zero period",
			closes: []float64{10, 20},
			period: 0,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SMA(barsFor(tt.closes...), tt.period), 1e-9)
		})
	}
}

func TestEMA(t *testing.T) {
	// Seeded with SMA(10,20,30)=20, then folding 40 with multiplier 0.5.
	assert.InDelta(t, 30.0, EMA(barsFor(10, 20, 30, 40), 3), 1e-9)

	// EMA over exactly period bars equals the SMA seed.
	assert.InDelta(t, 20.0, EMA(barsFor(10, 20, 30), 3), 1e-9)

	assert.InDelta(t, 0.0, EMA(barsFor(10), 3), 1e-9)
}

func TestRSI(t *testing.T) {
	// Monotonic rise has no losses.
	assert.InDelta(t, 100.0, RSI(barsFor(1, 2, 3, 4, 5), 4), 1e-9)

	// Flat closes report neutral.
	assert.InDelta(t, 50.0, RSI(barsFor(5, 5, 5, 5, 5), 4), 1e-9)

	// Equal gains and losses balance at 50.
	assert.InDelta(t, 50.0, RSI(barsFor(10, 12, 10, 12, 10), 4), 1e-9)

	assert.InDelta(t, 0.0, RSI(barsFor(1, 2), 4), 1e-9)
}

func TestATR(t *testing.T) {
	// Every bar here has high-low of 2 and closes within range.
	bars := barsFor(10, 10, 10, 10)
	assert.InDelta(t, 2.0, ATR(bars, 3), 1e-9)

	assert.InDelta(t, 0.0, ATR(barsFor(10), 3), 1e-9)
}
