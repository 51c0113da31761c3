package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deepterminal/deepterminal/internal/exchange"
	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// OrderCallback receives order lifecycle events.
type OrderCallback func(order types.Order)

// OrderManager places orders through the exchange and polls tracked orders
// for status transitions, fanning out fill/cancel/reject callbacks.
type OrderManager struct {
	exchange exchange.Exchange
	interval time.Duration
	logger   *logger.Logger

	mu       sync.RWMutex
	orders   map[string]*types.Order
	onFill   []OrderCallback
	onCancel []OrderCallback
	onReject []OrderCallback

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewOrderManager creates a manager polling at the given interval.
func NewOrderManager(ex exchange.Exchange, interval time.Duration, log *logger.Logger) *OrderManager {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if interval <= 0 {
		interval = time.Second
	}

	return &OrderManager{
		exchange: ex,
		interval: interval,
		logger:   log.Named("orders"),
		orders:   make(map[string]*types.Order),
	}
}

// OnFill registers a callback for orders reaching FILLED.
func (m *OrderManager) OnFill(callback OrderCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onFill = append(m.onFill, callback)
}

// OnCancel registers a callback for orders reaching CANCELLED or EXPIRED.
func (m *OrderManager) OnCancel(callback OrderCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onCancel = append(m.onCancel, callback)
}

// OnReject registers a callback for orders reaching REJECTED or ERROR.
func (m *OrderManager) OnReject(callback OrderCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onReject = append(m.onReject, callback)
}

// Start launches the poll loop. Starting a running manager is a no-op.
func (m *OrderManager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return nil
	}

	m.done = make(chan struct{})
	m.running = true

	m.wg.Add(1)
	go m.pollLoop()

	m.logger.Info("order manager started", zap.Duration("interval", m.interval))

	return nil
}

// Stop halts the poll loop and waits for it.
func (m *OrderManager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}

	close(m.done)
	m.wg.Wait()
	m.running = false

	m.logger.Info("order manager stopped")
}

func (m *OrderManager) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			m.Poll(ctx)
			cancel()
		}
	}
}

// Poll refreshes every tracked active order. A failure on one order is logged
// and does not stop the rest of the sweep.
func (m *OrderManager) Poll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.orders))

	for id, order := range m.orders {
		if order.IsActive() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.refresh(ctx, id); err != nil {
			m.logger.Error("failed to refresh order",
				zap.String("order_id", id),
				zap.Error(err))
		}
	}
}

func (m *OrderManager) refresh(ctx context.Context, id string) error {
	remote, err := m.exchange.OrderStatus(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	order, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()

		return nil
	}

	previous := order.Status
	order.Status = remote.Status
	order.FilledQuantity = remote.FilledQuantity
	order.AvgFillPrice = remote.AvgFillPrice
	order.UpdatedAt = remote.UpdatedAt
	snapshot := *order

	if !order.IsActive() {
		delete(m.orders, id)
	}
	m.mu.Unlock()

	if previous == snapshot.Status {
		return nil
	}

	switch snapshot.Status {
	case types.OrderStatusFilled:
		m.fanOut(m.orderCallbacks(&m.onFill), snapshot)
	case types.OrderStatusCancelled, types.OrderStatusExpired:
		m.fanOut(m.orderCallbacks(&m.onCancel), snapshot)
	case types.OrderStatusRejected, types.OrderStatusError:
		m.fanOut(m.orderCallbacks(&m.onReject), snapshot)
	}

	return nil
}

func (m *OrderManager) orderCallbacks(list *[]OrderCallback) []OrderCallback {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]OrderCallback(nil), *list...)
}

func (m *OrderManager) fanOut(callbacks []OrderCallback, order types.Order) {
	for _, callback := range callbacks {
		callback(order)
	}
}

// Track registers an order placed elsewhere for status polling.
func (m *OrderManager) Track(order types.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := order
	m.orders[order.ID] = &copied
}

// PlaceMarket places a market order and tracks it.
func (m *OrderManager) PlaceMarket(ctx context.Context, symbol string, side types.OrderSide, quantity float64) (types.Order, error) {
	return m.place(ctx, types.NewMarketOrder(symbol, side, quantity))
}

// PlaceLimit places a limit order and tracks it.
func (m *OrderManager) PlaceLimit(ctx context.Context, symbol string, side types.OrderSide, quantity, price float64) (types.Order, error) {
	return m.place(ctx, types.NewLimitOrder(symbol, side, quantity, price))
}

// PlaceStop places a stop order and tracks it.
func (m *OrderManager) PlaceStop(ctx context.Context, symbol string, side types.OrderSide, quantity, stopPrice float64) (types.Order, error) {
	return m.place(ctx, types.NewStopOrder(symbol, side, quantity, stopPrice))
}

func (m *OrderManager) place(ctx context.Context, order types.Order) (types.Order, error) {
	if err := order.Validate(); err != nil {
		return types.Order{}, err
	}

	placed, err := m.exchange.PlaceOrder(ctx, order)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeOrderFailed, "failed to place order", err)
	}

	m.logger.Info("order placed",
		zap.String("order_id", placed.ID),
		zap.String("symbol", placed.Symbol),
		zap.String("side", string(placed.Side)),
		zap.Float64("quantity", placed.Quantity))

	if placed.IsActive() {
		m.Track(placed)
	} else if placed.IsFilled() {
		m.fanOut(m.orderCallbacks(&m.onFill), placed)
	}

	return placed, nil
}

// Cancel cancels a tracked order at the broker. The terminal status lands via
// the next poll.
func (m *OrderManager) Cancel(ctx context.Context, id string) error {
	if err := m.exchange.CancelOrder(ctx, id); err != nil {
		return errors.Wrap(errors.ErrCodeCancelFailed, "failed to cancel order", err)
	}

	return nil
}

// Modify replaces the mutable fields of a tracked order at the broker.
func (m *OrderManager) Modify(ctx context.Context, order types.Order) (types.Order, error) {
	modified, err := m.exchange.ModifyOrder(ctx, order)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeModifyFailed, "failed to modify order", err)
	}

	m.mu.Lock()
	if tracked, ok := m.orders[modified.ID]; ok {
		*tracked = modified
	}
	m.mu.Unlock()

	return modified, nil
}

// Get returns a tracked order by ID; on a cache miss it falls back to one
// broker lookup.
func (m *OrderManager) Get(ctx context.Context, id string) (types.Order, bool) {
	m.mu.RLock()
	order, ok := m.orders[id]
	if ok {
		copied := *order
		m.mu.RUnlock()

		return copied, true
	}
	m.mu.RUnlock()

	remote, err := m.exchange.OrderStatus(ctx, id)
	if err != nil {
		return types.Order{}, false
	}

	if remote.IsActive() {
		m.Track(remote)
	}

	return remote, true
}

// Active returns a copy of the tracked active orders.
func (m *OrderManager) Active() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]types.Order, 0, len(m.orders))
	for _, order := range m.orders {
		orders = append(orders, *order)
	}

	return orders
}
