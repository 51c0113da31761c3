// Package paper provides an in-process exchange simulator. Market orders fill
// immediately at the last known price, limit and stop orders rest until a
// price update crosses them. It backs the trade command when no real broker
// is configured and keeps engine tests hermetic.
package paper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/deepterminal/deepterminal/internal/exchange"
	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

var _ exchange.Exchange = (*Exchange)(nil)

// Exchange is the simulated broker.
type Exchange struct {
	mu        sync.RWMutex
	connected bool
	balance   decimal.Decimal
	realized  decimal.Decimal
	prices    map[string]float64
	orders    map[string]*types.Order
	// net signed quantity per symbol, positive long, negative short
	net      map[string]decimal.Decimal
	avgEntry map[string]decimal.Decimal
	// openTime pins each symbol's position identity across snapshots.
	openTime    map[string]time.Time
	subscribers []subscription
	logger      *logger.Logger
}

type subscription struct {
	symbols map[string]struct{}
	handler exchange.TickHandler
}

// NewExchange creates a paper exchange with the given starting balance.
func NewExchange(startingBalance float64, log *logger.Logger) *Exchange {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Exchange{
		balance:  decimal.NewFromFloat(startingBalance),
		prices:   make(map[string]float64),
		orders:   make(map[string]*types.Order),
		net:      make(map[string]decimal.Decimal),
		avgEntry: make(map[string]decimal.Decimal),
		openTime: make(map[string]time.Time),
		logger:   log.Named("paper"),
	}
}

// Connect establishes the simulated session.
func (e *Exchange) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.connected = true

	return nil
}

// Disconnect tears the simulated session down.
func (e *Exchange) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.connected = false

	return nil
}

// IsConnected reports the session state.
func (e *Exchange) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.connected
}

// SetPrice updates the last price for a symbol, triggers any resting orders
// that cross it, and fans the tick out to subscribers.
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	e.prices[symbol] = price
	e.triggerRestingOrdersLocked(symbol, price)
	handlers := e.matchingHandlersLocked(symbol)
	e.mu.Unlock()

	tick := types.Tick{Symbol: symbol, Last: price, Time: time.Now()}
	for _, handler := range handlers {
		handler(tick)
	}
}

func (e *Exchange) matchingHandlersLocked(symbol string) []exchange.TickHandler {
	handlers := make([]exchange.TickHandler, 0, len(e.subscribers))

	for _, sub := range e.subscribers {
		if _, ok := sub.symbols[symbol]; ok {
			handlers = append(handlers, sub.handler)
		}
	}

	return handlers
}

func (e *Exchange) triggerRestingOrdersLocked(symbol string, price float64) {
	for _, order := range e.orders {
		if order.Symbol != symbol || !order.IsActive() {
			continue
		}

		if e.crossed(order, price) {
			e.fillLocked(order, price)
		}
	}
}

func (e *Exchange) crossed(order *types.Order, price float64) bool {
	switch order.Type {
	case types.OrderTypeLimit:
		limit := order.Price.Unwrap()
		if order.Side == types.OrderSideBuy {
			return price <= limit
		}

		return price >= limit
	case types.OrderTypeStop, types.OrderTypeStopLimit:
		stop := order.StopPrice.Unwrap()
		if order.Side == types.OrderSideBuy {
			return price >= stop
		}

		return price <= stop
	default:
		return true
	}
}

func (e *Exchange) fillLocked(order *types.Order, price float64) {
	remaining := order.RemainingQuantity()
	if remaining <= 0 {
		return
	}

	if err := order.ApplyFill(remaining, price, time.Now()); err != nil {
		e.logger.Error("paper fill failed", zap.String("order_id", order.ID), zap.Error(err))

		return
	}

	qty := decimal.NewFromFloat(remaining)
	if order.Side == types.OrderSideSell {
		qty = qty.Neg()
	}

	prev := e.net[order.Symbol]
	next := prev.Add(qty)
	fillPrice := decimal.NewFromFloat(price)

	switch {
	case prev.IsZero():
		e.avgEntry[order.Symbol] = fillPrice
		e.openTime[order.Symbol] = time.Now()
	case prev.Sign() == qty.Sign():
		// Adding to the position re-weights the entry.
		total := prev.Abs().Add(qty.Abs())
		e.avgEntry[order.Symbol] = prev.Abs().Mul(e.avgEntry[order.Symbol]).
			Add(qty.Abs().Mul(fillPrice)).Div(total)
	default:
		// Reducing or flipping realizes PnL on the closed slice.
		closed := decimal.Min(prev.Abs(), qty.Abs())
		move := fillPrice.Sub(e.avgEntry[order.Symbol])
		if prev.Sign() < 0 {
			move = move.Neg()
		}

		e.realized = e.realized.Add(move.Mul(closed))
		if prev.Abs().LessThan(qty.Abs()) {
			// A flip is a new position.
			e.avgEntry[order.Symbol] = fillPrice
			e.openTime[order.Symbol] = time.Now()
		}
	}

	e.net[order.Symbol] = next
	if next.IsZero() {
		delete(e.net, order.Symbol)
		delete(e.avgEntry, order.Symbol)
		delete(e.openTime, order.Symbol)
	}
}

// PlaceOrder accepts the order, assigns a broker ID, and fills it when it is
// marketable against the last price.
func (e *Exchange) PlaceOrder(ctx context.Context, order types.Order) (types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.connected {
		return types.Order{}, errors.New(errors.ErrCodeNotConnected, "paper exchange is not connected")
	}

	if err := order.Validate(); err != nil {
		return types.Order{}, err
	}

	order.BrokerOrderID = uuid.New().String()
	order.SetStatus(types.OrderStatusSubmitted, time.Now())

	price, hasPrice := e.prices[order.Symbol]
	if order.Type == types.OrderTypeMarket && !hasPrice {
		return types.Order{}, errors.Newf(errors.ErrCodeQuoteNotFound,
			"no price for symbol %s", order.Symbol)
	}

	stored := order
	e.orders[stored.ID] = &stored

	if hasPrice && e.crossed(&stored, price) {
		fillPrice := price
		if stored.Type == types.OrderTypeLimit {
			fillPrice = stored.Price.Unwrap()
		}

		e.fillLocked(&stored, fillPrice)
	}

	return stored, nil
}

// CancelOrder cancels an active order.
func (e *Exchange) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	if !order.IsActive() {
		return errors.Newf(errors.ErrCodeCancelFailed, "order %s is already terminal", orderID)
	}

	order.SetStatus(types.OrderStatusCancelled, time.Now())

	return nil
}

// ModifyOrder replaces the mutable fields of an active order.
func (e *Exchange) ModifyOrder(ctx context.Context, order types.Order) (types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.orders[order.ID]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", order.ID)
	}

	if !existing.IsActive() {
		return types.Order{}, errors.Newf(errors.ErrCodeModifyFailed, "order %s is already terminal", order.ID)
	}

	existing.Quantity = order.Quantity
	existing.Price = order.Price
	existing.StopPrice = order.StopPrice
	existing.UpdatedAt = time.Now()

	return *existing, nil
}

// OrderStatus fetches the current state of an order.
func (e *Exchange) OrderStatus(ctx context.Context, orderID string) (types.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	order, ok := e.orders[orderID]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	return *order, nil
}

// OpenOrders returns all orders that can still fill.
func (e *Exchange) OpenOrders(ctx context.Context) ([]types.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	open := make([]types.Order, 0)

	for _, order := range e.orders {
		if order.IsActive() {
			open = append(open, *order)
		}
	}

	return open, nil
}

// Positions returns the net position per symbol. Position IDs are derived
// from the recorded open time, so consecutive snapshots of the same position
// carry the same ID.
func (e *Exchange) Positions(ctx context.Context) ([]types.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	positions := make([]types.Position, 0, len(e.net))

	for symbol, net := range e.net {
		side := types.PositionSideLong
		if net.Sign() < 0 {
			side = types.PositionSideShort
		}

		qty, _ := net.Abs().Float64()
		entry, _ := e.avgEntry[symbol].Float64()

		position := types.NewPosition(symbol, side, qty, entry, e.openTime[symbol])
		if price, ok := e.prices[symbol]; ok {
			position.UpdatePrice(price)
		}

		positions = append(positions, position)
	}

	return positions, nil
}

// AccountInfo returns the simulated account snapshot.
func (e *Exchange) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	unrealized := decimal.Zero

	for symbol, net := range e.net {
		price, ok := e.prices[symbol]
		if !ok {
			continue
		}

		move := decimal.NewFromFloat(price).Sub(e.avgEntry[symbol])
		unrealized = unrealized.Add(move.Mul(net))
	}

	balance, _ := e.balance.Add(e.realized).Float64()
	realized, _ := e.realized.Float64()
	unrealizedF, _ := unrealized.Float64()
	equity, _ := e.balance.Add(e.realized).Add(unrealized).Float64()

	return types.AccountInfo{
		Balance:         balance,
		Equity:          equity,
		MarginAvailable: equity,
		RealizedPnL:     realized,
		UnrealizedPnL:   unrealizedF,
		Currency:        "USD",
	}, nil
}

// LastPrice returns the most recent price for a symbol.
func (e *Exchange) LastPrice(ctx context.Context, symbol string) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	price, ok := e.prices[symbol]
	if !ok {
		return 0, errors.Newf(errors.ErrCodeQuoteNotFound, "no price for symbol %s", symbol)
	}

	return price, nil
}

// SubscribeTicks registers a handler for price updates on the given symbols
// and blocks until the context is cancelled.
func (e *Exchange) SubscribeTicks(ctx context.Context, symbols []string, handler exchange.TickHandler) error {
	set := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		set[symbol] = struct{}{}
	}

	e.mu.Lock()
	e.subscribers = append(e.subscribers, subscription{symbols: set, handler: handler})
	e.mu.Unlock()

	<-ctx.Done()

	return ctx.Err()
}
