package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/deepterminal/deepterminal/pkg/errors"
)

type OrderSide string

type OrderType string

type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceDay TimeInForce = "DAY"
)

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusError           OrderStatus = "ERROR"
)

const (
	OrderReasonEntry      string = "entry"
	OrderReasonExit       string = "exit"
	OrderReasonStopLoss   string = "stop_loss"
	OrderReasonTakeProfit string = "take_profit"
	OrderReasonEmergency  string = "emergency_close"
)

// Order is a single instruction to the broker. Price carries the limit price
// for limit orders and, on exit orders, the intended exit price regardless of
// order type; entry orders use it the same way for the intended entry.
type Order struct {
	ID        string      `yaml:"id" json:"id" validate:"required"`
	Symbol    string      `yaml:"symbol" json:"symbol" validate:"required"`
	Side      OrderSide   `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Type      OrderType   `yaml:"type" json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT TRAILING_STOP"`
	Status    OrderStatus `yaml:"status" json:"status"`
	Quantity  float64     `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	// TimeInForce defaults to GTC; brokers that only support day orders may
	// override it before submission.
	TimeInForce TimeInForce `yaml:"time_in_force" json:"time_in_force" validate:"omitempty,oneof=GTC IOC FOK DAY"`
	// Price is the limit price. See the struct comment for the exit-price reuse.
	Price optional.Option[float64] `yaml:"price" json:"price"`
	// StopPrice is the trigger price for stop and stop-limit orders.
	StopPrice optional.Option[float64] `yaml:"stop_price" json:"stop_price"`
	// StopLoss and TakeProfit request protective orders once this order fills.
	StopLoss   optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`

	FilledQuantity float64 `yaml:"filled_quantity" json:"filled_quantity"`
	AvgFillPrice   float64 `yaml:"avg_fill_price" json:"avg_fill_price"`

	// BrokerOrderID is the collaborator's identifier once submitted.
	BrokerOrderID string `yaml:"broker_order_id" json:"broker_order_id"`
	// SignalID links the order back to the signal that produced it.
	SignalID string `yaml:"signal_id" json:"signal_id"`
	// PositionID is set on exit and protective orders.
	PositionID   string `yaml:"position_id" json:"position_id"`
	Reason       string `yaml:"reason" json:"reason"`
	StrategyName string `yaml:"strategy_name" json:"strategy_name"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

func newOrder(symbol string, side OrderSide, orderType OrderType, quantity float64) Order {
	now := time.Now()

	return Order{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Side:        side,
		Type:        orderType,
		Status:      OrderStatusCreated,
		Quantity:    quantity,
		TimeInForce: TimeInForceGTC,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewMarketOrder creates a market order in the CREATED state.
func NewMarketOrder(symbol string, side OrderSide, quantity float64) Order {
	return newOrder(symbol, side, OrderTypeMarket, quantity)
}

// NewLimitOrder creates a limit order in the CREATED state.
func NewLimitOrder(symbol string, side OrderSide, quantity, limitPrice float64) Order {
	order := newOrder(symbol, side, OrderTypeLimit, quantity)
	order.Price = optional.Some(limitPrice)

	return order
}

// NewStopOrder creates a stop (market) order in the CREATED state.
func NewStopOrder(symbol string, side OrderSide, quantity, stopPrice float64) Order {
	order := newOrder(symbol, side, OrderTypeStop, quantity)
	order.StopPrice = optional.Some(stopPrice)

	return order
}

// NewStopLimitOrder creates a stop-limit order in the CREATED state.
func NewStopLimitOrder(symbol string, side OrderSide, quantity, stopPrice, limitPrice float64) Order {
	order := newOrder(symbol, side, OrderTypeStopLimit, quantity)
	order.StopPrice = optional.Some(stopPrice)
	order.Price = optional.Some(limitPrice)

	return order
}

// NewTrailingStopOrder creates a trailing stop order in the CREATED state.
// The stop price is the initial trigger; trailing it is the broker's job.
func NewTrailingStopOrder(symbol string, side OrderSide, quantity, stopPrice float64) Order {
	order := newOrder(symbol, side, OrderTypeTrailingStop, quantity)
	order.StopPrice = optional.Some(stopPrice)

	return order
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()

	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	if o.Type == OrderTypeLimit || o.Type == OrderTypeStopLimit {
		if o.Price.IsNone() {
			return errors.New(errors.ErrCodeInvalidPrice, "limit order requires a limit price")
		}
	}

	if o.Type == OrderTypeStop || o.Type == OrderTypeStopLimit || o.Type == OrderTypeTrailingStop {
		if o.StopPrice.IsNone() {
			return errors.New(errors.ErrCodeInvalidPrice, "stop order requires a stop price")
		}
	}

	return nil
}

// ApplyFill records a (partial) fill, updating the running average fill price
// as the quantity-weighted mean of all fills so far. The order moves to
// PARTIALLY_FILLED, or FILLED once the cumulative quantity reaches the order
// quantity.
func (o *Order) ApplyFill(quantity, price float64, at time.Time) error {
	if quantity <= 0 {
		return errors.New(errors.ErrCodeInvalidQuantity, "fill quantity must be positive")
	}

	if price <= 0 {
		return errors.New(errors.ErrCodeInvalidPrice, "fill price must be positive")
	}

	prevQty := decimal.NewFromFloat(o.FilledQuantity)
	prevAvg := decimal.NewFromFloat(o.AvgFillPrice)
	fillQty := decimal.NewFromFloat(quantity)
	fillPrice := decimal.NewFromFloat(price)

	totalQty := prevQty.Add(fillQty)
	avg := prevQty.Mul(prevAvg).Add(fillQty.Mul(fillPrice)).Div(totalQty)

	o.FilledQuantity, _ = totalQty.Float64()
	o.AvgFillPrice, _ = avg.Float64()
	o.UpdatedAt = at

	if o.FilledQuantity >= o.Quantity {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}

	return nil
}

// SetStatus moves the order to the given status.
func (o *Order) SetStatus(status OrderStatus, at time.Time) {
	o.Status = status
	o.UpdatedAt = at
}

// IsActive reports whether the order can still fill.
func (o *Order) IsActive() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired, OrderStatusError:
		return false
	default:
		return true
	}
}

// IsFilled reports whether the order is completely filled.
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// RemainingQuantity returns the unfilled quantity.
func (o *Order) RemainingQuantity() float64 {
	remaining := o.Quantity - o.FilledQuantity
	if remaining < 0 {
		return 0
	}

	return remaining
}

// IsProtective reports whether this order guards an open position.
func (o *Order) IsProtective() bool {
	return o.Reason == OrderReasonStopLoss || o.Reason == OrderReasonTakeProfit
}
