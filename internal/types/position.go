package types

import (
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/deepterminal/deepterminal/pkg/errors"
)

type PositionSide string

type PositionStatus string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

const (
	PositionStatusOpen            PositionStatus = "OPEN"
	PositionStatusPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
	PositionStatusClosed          PositionStatus = "CLOSED"
)

// Position is an open (or closing) holding in a single instrument.
type Position struct {
	ID       string         `yaml:"id" json:"id"`
	Symbol   string         `yaml:"symbol" json:"symbol"`
	Side     PositionSide   `yaml:"side" json:"side"`
	Status   PositionStatus `yaml:"status" json:"status"`
	Quantity float64        `yaml:"quantity" json:"quantity"`
	// ContractSize scales point moves into cash, 1 for stock-like instruments.
	ContractSize  float64 `yaml:"contract_size" json:"contract_size"`
	EntryPrice    float64 `yaml:"entry_price" json:"entry_price"`
	CurrentPrice  float64 `yaml:"current_price" json:"current_price"`
	RealizedPnL   float64 `yaml:"realized_pnl" json:"realized_pnl"`
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`

	StopLoss   optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`

	SignalID     string `yaml:"signal_id" json:"signal_id"`
	StrategyName string `yaml:"strategy_name" json:"strategy_name"`

	OpenTime  time.Time                  `yaml:"open_time" json:"open_time"`
	CloseTime optional.Option[time.Time] `yaml:"close_time" json:"close_time"`
}

// NewPosition opens a position at the given entry price.
func NewPosition(symbol string, side PositionSide, quantity, entryPrice float64, openTime time.Time) Position {
	return Position{
		ID:           fmt.Sprintf("%s_%d", symbol, openTime.UnixNano()),
		Symbol:       symbol,
		Side:         side,
		Status:       PositionStatusOpen,
		Quantity:     quantity,
		ContractSize: 1,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		OpenTime:     openTime,
	}
}

// UpdatePrice marks the position against a new price and recomputes the
// unrealized PnL on the remaining quantity.
func (p *Position) UpdatePrice(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.pointPnL(price, p.Quantity)
}

func (p *Position) pointPnL(price, quantity float64) float64 {
	entry := decimal.NewFromFloat(p.EntryPrice)
	current := decimal.NewFromFloat(price)
	qty := decimal.NewFromFloat(quantity)
	size := decimal.NewFromFloat(p.contractSize())

	move := current.Sub(entry)
	if p.Side == PositionSideShort {
		move = move.Neg()
	}

	pnl, _ := move.Mul(qty).Mul(size).Float64()

	return pnl
}

func (p *Position) contractSize() float64 {
	if p.ContractSize <= 0 {
		return 1
	}

	return p.ContractSize
}

// Close realizes PnL on quantity units at exitPrice. Closing the full
// remaining quantity moves the position to CLOSED and stamps the close time;
// a smaller quantity leaves it PARTIALLY_CLOSED.
func (p *Position) Close(exitPrice, quantity float64, at time.Time) error {
	if quantity <= 0 {
		return errors.New(errors.ErrCodeInvalidQuantity, "close quantity must be positive")
	}

	if quantity > p.Quantity {
		return errors.Newf(errors.ErrCodeInvalidQuantity,
			"close quantity %.4f exceeds position quantity %.4f", quantity, p.Quantity)
	}

	realized := decimal.NewFromFloat(p.RealizedPnL).
		Add(decimal.NewFromFloat(p.pointPnL(exitPrice, quantity)))
	p.RealizedPnL, _ = realized.Float64()

	remaining := decimal.NewFromFloat(p.Quantity).Sub(decimal.NewFromFloat(quantity))
	p.Quantity, _ = remaining.Float64()
	p.CurrentPrice = exitPrice

	if remaining.IsZero() {
		p.Status = PositionStatusClosed
		p.CloseTime = optional.Some(at)
		p.UnrealizedPnL = 0
	} else {
		p.Status = PositionStatusPartiallyClosed
		p.UnrealizedPnL = p.pointPnL(p.CurrentPrice, p.Quantity)
	}

	return nil
}

// PnL returns realized plus unrealized PnL.
func (p *Position) PnL() float64 {
	total, _ := decimal.NewFromFloat(p.RealizedPnL).
		Add(decimal.NewFromFloat(p.UnrealizedPnL)).Float64()

	return total
}

// IsOpen reports whether any quantity remains.
func (p *Position) IsOpen() bool {
	return p.Status != PositionStatusClosed
}

// Notional returns the cash value of the remaining quantity at the current price.
func (p *Position) Notional() float64 {
	notional, _ := decimal.NewFromFloat(p.CurrentPrice).
		Mul(decimal.NewFromFloat(p.Quantity)).
		Mul(decimal.NewFromFloat(p.contractSize())).Float64()

	return notional
}
