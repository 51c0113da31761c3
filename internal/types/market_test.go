package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickMid(t *testing.T) {
	tests := []struct {
		name     string
		tick     Tick
		expected float64
	}{
		{
			name:     "both sides present",
			tick:     Tick{Bid: 99.5, Ask: 100.5, Last: 98},
			expected: 100,
		},
		{
			name:     "missing bid falls back to last",
			tick:     Tick{Ask: 100.5, Last: 98},
			expected: 98,
		},
		{
			name:     "missing both sides",
			tick:     Tick{Last: 101.25},
			expected: 101.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.tick.Mid(), 1e-9)
		})
	}
}

func TestTickPrice(t *testing.T) {
	withLast := Tick{Bid: 99, Ask: 101, Last: 100.5}
	assert.InDelta(t, 100.5, withLast.Price(), 1e-9)

	noLast := Tick{Bid: 99, Ask: 101}
	assert.InDelta(t, 100.0, noLast.Price(), 1e-9)
}
