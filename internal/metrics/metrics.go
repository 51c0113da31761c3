// Package metrics exposes prometheus collectors for the trading core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsTotal counts signals by strategy and outcome (executed, rejected).
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepterminal_signals_total",
		Help: "Signals processed by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// OrdersTotal counts orders by symbol, side, and status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepterminal_orders_total",
		Help: "Orders by symbol, side, and status.",
	}, []string{"symbol", "side", "status"})

	// TradesTotal counts completed round trips by symbol and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepterminal_trades_total",
		Help: "Completed trades by symbol and outcome.",
	}, []string{"symbol", "outcome"})

	// PositionsOpen tracks currently open positions per symbol.
	PositionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deepterminal_positions_open",
		Help: "Currently open positions per symbol.",
	}, []string{"symbol"})

	// RealizedPnL tracks cumulative realized profit and loss.
	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepterminal_realized_pnl",
		Help: "Cumulative realized profit and loss.",
	})

	// Equity tracks the latest account equity snapshot.
	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepterminal_equity",
		Help: "Latest account equity.",
	})

	// ReconcileErrors counts per-order failures inside the reconcile loop.
	ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepterminal_reconcile_errors_total",
		Help: "Order reconciliation failures.",
	})

	// FeedConnected reports whether the market data feed is connected.
	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deepterminal_feed_connected",
		Help: "Market data feed connection state (1 connected, 0 not).",
	})
)
