package metrics

// Recorder provides methods for recording metrics. A nil *Recorder is valid
// and records nothing, so callers never need to guard their calls.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSignal records a processed signal outcome.
func (r *Recorder) RecordSignal(strategy string, executed bool) {
	if r == nil {
		return
	}

	outcome := "rejected"
	if executed {
		outcome = "executed"
	}

	SignalsTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordOrder records an order status change.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	if r == nil {
		return
	}

	OrdersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordTrade records a completed round trip.
func (r *Recorder) RecordTrade(symbol string, profitable bool) {
	if r == nil {
		return
	}

	outcome := "loss"
	if profitable {
		outcome = "win"
	}

	TradesTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordPositionOpened records a position being opened.
func (r *Recorder) RecordPositionOpened(symbol string) {
	if r == nil {
		return
	}

	PositionsOpen.WithLabelValues(symbol).Inc()
}

// RecordPositionClosed records a position being closed.
func (r *Recorder) RecordPositionClosed(symbol string) {
	if r == nil {
		return
	}

	PositionsOpen.WithLabelValues(symbol).Dec()
}

// RecordRealizedPnL records cumulative realized PnL.
func (r *Recorder) RecordRealizedPnL(pnl float64) {
	if r == nil {
		return
	}

	RealizedPnL.Set(pnl)
}

// RecordEquity records the latest equity snapshot.
func (r *Recorder) RecordEquity(equity float64) {
	if r == nil {
		return
	}

	Equity.Set(equity)
}

// RecordReconcileError counts a per-order reconciliation failure.
func (r *Recorder) RecordReconcileError() {
	if r == nil {
		return
	}

	ReconcileErrors.Inc()
}

// RecordFeedConnected records the feed connection state.
func (r *Recorder) RecordFeedConnected(connected bool) {
	if r == nil {
		return
	}

	if connected {
		FeedConnected.Set(1)
	} else {
		FeedConnected.Set(0)
	}
}
