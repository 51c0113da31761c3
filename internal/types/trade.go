package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is a single execution reported by the broker against an order.
type Fill struct {
	OrderID  string    `json:"order_id" csv:"order_id"`
	Symbol   string    `json:"symbol" csv:"symbol"`
	Side     OrderSide `json:"side" csv:"side"`
	Quantity float64   `json:"quantity" csv:"quantity"`
	Price    float64   `json:"price" csv:"price"`
	Time     time.Time `json:"time" csv:"time"`
}

// Trade is a completed round trip: a position opened and fully closed.
type Trade struct {
	PositionID   string       `json:"position_id" csv:"position_id"`
	Symbol       string       `json:"symbol" csv:"symbol"`
	Side         PositionSide `json:"side" csv:"side"`
	Quantity     float64      `json:"quantity" csv:"quantity"`
	EntryPrice   float64      `json:"entry_price" csv:"entry_price"`
	ExitPrice    float64      `json:"exit_price" csv:"exit_price"`
	RealizedPnL  float64      `json:"realized_pnl" csv:"realized_pnl"`
	StrategyName string       `json:"strategy_name" csv:"strategy_name"`
	OpenTime     time.Time    `json:"open_time" csv:"open_time"`
	CloseTime    time.Time    `json:"close_time" csv:"close_time"`
}

// IsWin reports whether the trade closed profitably.
func (t *Trade) IsWin() bool {
	return t.RealizedPnL > 0
}

// ReturnPct returns the trade's return relative to the entry notional.
func (t *Trade) ReturnPct() float64 {
	if t.EntryPrice == 0 || t.Quantity == 0 {
		return 0
	}

	notional := decimal.NewFromFloat(t.EntryPrice).Mul(decimal.NewFromFloat(t.Quantity))
	ret, _ := decimal.NewFromFloat(t.RealizedPnL).Div(notional).Float64()

	return ret
}
