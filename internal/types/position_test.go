package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionUnrealizedPnL(t *testing.T) {
	tests := []struct {
		name         string
		side         PositionSide
		quantity     float64
		contractSize float64
		entry        float64
		current      float64
		expected     float64
	}{
		{
			name:     "long profit",
			side:     PositionSideLong,
			quantity: 100,
			entry:    100,
			current:  105,
			expected: 500,
		},
		{
			name:     "long loss",
			side:     PositionSideLong,
			quantity: 100,
			entry:    100,
			current:  95,
			expected: -500,
		},
		{
			name:     "short profit",
			side:     PositionSideShort,
			quantity: 100,
			entry:    100,
			current:  95,
			expected: 500,
		},
		{
			name:     "short loss",
			side:     PositionSideShort,
			quantity: 100,
			entry:    100,
			current:  105,
			expected: -500,
		},
		{
			name:         "futures contract multiplier",
			side:         PositionSideLong,
			quantity:     2,
			contractSize: 50,
			entry:        5000,
			current:      5010,
			expected:     1000,
		},
		{
			name:     "flat price",
			side:     PositionSideLong,
			quantity: 100,
			entry:    100,
			current:  100,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			position := NewPosition("TEST", tt.side, tt.quantity, tt.entry, time.Now())
			if tt.contractSize > 0 {
				position.ContractSize = tt.contractSize
			}

			position.UpdatePrice(tt.current)
			assert.InDelta(t, tt.expected, position.UnrealizedPnL, 1e-9)
		})
	}
}

func TestPositionCloseFull(t *testing.T) {
	position := NewPosition("AAPL", PositionSideLong, 1, 100, time.Now())
	closeTime := time.Now()

	require.NoError(t, position.Close(110, 1, closeTime))
	assert.Equal(t, PositionStatusClosed, position.Status)
	assert.InDelta(t, 10.0, position.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.0, position.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 0.0, position.Quantity, 1e-9)
	assert.False(t, position.IsOpen())
	require.True(t, position.CloseTime.IsSome())
	assert.Equal(t, closeTime, position.CloseTime.Unwrap())
}

func TestPositionClosePartial(t *testing.T) {
	position := NewPosition("AAPL", PositionSideLong, 100, 100, time.Now())

	require.NoError(t, position.Close(110, 40, time.Now()))
	assert.Equal(t, PositionStatusPartiallyClosed, position.Status)
	assert.InDelta(t, 400.0, position.RealizedPnL, 1e-9)
	assert.InDelta(t, 60.0, position.Quantity, 1e-9)
	assert.True(t, position.IsOpen())
	assert.True(t, position.CloseTime.IsNone())

	// Remaining quantity marked at the exit price
	assert.InDelta(t, 600.0, position.UnrealizedPnL, 1e-9)
}

func TestPositionCloseRejectsOversizedQuantity(t *testing.T) {
	position := NewPosition("AAPL", PositionSideLong, 100, 100, time.Now())

	err := position.Close(110, 150, time.Now())
	assert.Error(t, err)
	assert.Equal(t, PositionStatusOpen, position.Status)
	assert.InDelta(t, 100.0, position.Quantity, 1e-9)
}

func TestPositionCloseRejectsNonPositiveQuantity(t *testing.T) {
	position := NewPosition("AAPL", PositionSideLong, 100, 100, time.Now())

	assert.Error(t, position.Close(110, 0, time.Now()))
	assert.Error(t, position.Close(110, -5, time.Now()))
}

func TestPositionCloseShort(t *testing.T) {
	position := NewPosition("AAPL", PositionSideShort, 10, 100, time.Now())

	require.NoError(t, position.Close(90, 10, time.Now()))
	assert.InDelta(t, 100.0, position.RealizedPnL, 1e-9)
	assert.Equal(t, PositionStatusClosed, position.Status)
}

func TestPositionPnLCombinesRealizedAndUnrealized(t *testing.T) {
	position := NewPosition("AAPL", PositionSideLong, 100, 100, time.Now())

	require.NoError(t, position.Close(110, 40, time.Now()))
	position.UpdatePrice(105)

	// 400 realized + 5 * 60 unrealized
	assert.InDelta(t, 700.0, position.PnL(), 1e-9)
}

func TestNewPositionID(t *testing.T) {
	openTime := time.Now()
	position := NewPosition("AAPL", PositionSideLong, 100, 100, openTime)

	assert.Contains(t, position.ID, "AAPL_")
	assert.Equal(t, PositionStatusOpen, position.Status)
	assert.Equal(t, 100.0, position.CurrentPrice)
}
