// Package strategy defines the signal-producing contract shared by the live
// engine and the backtester, plus a registry for wiring strategies in by
// name.
package strategy

import (
	"context"

	"github.com/deepterminal/deepterminal/internal/types"
)

// Context is the read-only account view a strategy sees while deciding.
type Context interface {
	// AccountBalance returns the current cash balance.
	AccountBalance() float64
	// OpenPositions returns the currently open positions.
	OpenPositions() []types.Position
}

// Strategy turns market data into signals. Implementations must be
// deterministic for a given bar sequence so backtests are reproducible.
type Strategy interface {
	// Name identifies the strategy in signals and logs.
	Name() string
	// Initialize applies the raw YAML configuration before the first bar.
	Initialize(config []byte) error
	// OnBars receives the bar history per symbol, newest bar last, and
	// returns zero or more signals.
	OnBars(ctx context.Context, sctx Context, bars map[string][]types.Bar) ([]types.Signal, error)
	// Activate is called once before the first OnBars.
	Activate(ctx context.Context) error
	// Deactivate is called once after the last OnBars.
	Deactivate(ctx context.Context) error
}
