package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepterminal/deepterminal/internal/exchange"
	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

type fakeExchange struct {
	mu        sync.Mutex
	positions []types.Position
	orders    map[string]types.Order
	placeErr  error
	statusErr map[string]error
}

var _ exchange.Exchange = (*fakeExchange)(nil)

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		orders:    make(map[string]types.Order),
		statusErr: make(map[string]error),
	}
}

func (f *fakeExchange) Connect(ctx context.Context) error    { return nil }
func (f *fakeExchange) Disconnect(ctx context.Context) error { return nil }
func (f *fakeExchange) IsConnected() bool                    { return true }

func (f *fakeExchange) PlaceOrder(ctx context.Context, order types.Order) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.placeErr != nil {
		return types.Order{}, f.placeErr
	}

	order.Status = types.OrderStatusSubmitted
	f.orders[order.ID] = order

	return order, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[orderID]
	if !ok {
		return errors.New(errors.ErrCodeOrderNotFound, "unknown order")
	}

	order.Status = types.OrderStatusCancelled
	f.orders[orderID] = order

	return nil
}

func (f *fakeExchange) ModifyOrder(ctx context.Context, order types.Order) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.orders[order.ID]
	if !ok {
		return types.Order{}, errors.New(errors.ErrCodeOrderNotFound, "unknown order")
	}

	existing.Quantity = order.Quantity
	existing.Price = order.Price
	f.orders[order.ID] = existing

	return existing, nil
}

func (f *fakeExchange) OrderStatus(ctx context.Context, orderID string) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.statusErr[orderID]; err != nil {
		return types.Order{}, err
	}

	order, ok := f.orders[orderID]
	if !ok {
		return types.Order{}, errors.New(errors.ErrCodeOrderNotFound, "unknown order")
	}

	return order, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context) ([]types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	open := make([]types.Order, 0, len(f.orders))
	for _, order := range f.orders {
		if order.IsActive() {
			open = append(open, order)
		}
	}

	return open, nil
}

func (f *fakeExchange) Positions(ctx context.Context) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]types.Position(nil), f.positions...), nil
}

func (f *fakeExchange) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return types.AccountInfo{Balance: 100000, Equity: 100000, Currency: "USD"}, nil
}

func (f *fakeExchange) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, errors.New(errors.ErrCodeQuoteNotFound, "no quote")
}

func (f *fakeExchange) SubscribeTicks(ctx context.Context, symbols []string, handler exchange.TickHandler) error {
	<-ctx.Done()

	return ctx.Err()
}

func (f *fakeExchange) setPositions(positions ...types.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.positions = positions
}

func (f *fakeExchange) fill(orderID string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order := f.orders[orderID]
	order.ApplyFill(order.Quantity, price, time.Now())
	f.orders[orderID] = order
}

func TestPositionTrackerDiffsOpensAndCloses(t *testing.T) {
	ex := newFakeExchange()
	tracker := NewPositionTracker(ex, time.Second, logger.NewNopLogger())

	var mu sync.Mutex
	var opened, closed []types.Position

	tracker.OnOpen(func(p types.Position) {
		mu.Lock()
		defer mu.Unlock()
		opened = append(opened, p)
	})
	tracker.OnClose(func(p types.Position) {
		mu.Lock()
		defer mu.Unlock()
		closed = append(closed, p)
	})

	position := types.NewPosition("AAPL", types.PositionSideLong, 100, 150.0, time.Now())
	ex.setPositions(position)

	tracker.Poll(context.Background())

	mu.Lock()
	require.Len(t, opened, 1)
	assert.Equal(t, "AAPL", opened[0].Symbol)
	assert.Empty(t, closed)
	mu.Unlock()

	assert.Len(t, tracker.Snapshot(), 1)

	// Broker flattened the position.
	ex.setPositions()
	tracker.Poll(context.Background())

	mu.Lock()
	require.Len(t, closed, 1)
	assert.Equal(t, position.ID, closed[0].ID)
	mu.Unlock()

	assert.Empty(t, tracker.Snapshot())
}

func TestPositionTrackerOnTickUpdatesPrice(t *testing.T) {
	ex := newFakeExchange()
	tracker := NewPositionTracker(ex, time.Second, nil)

	var mu sync.Mutex
	var updates []types.Position

	tracker.OnUpdate(func(p types.Position) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	})

	position := types.NewPosition("AAPL", types.PositionSideLong, 100, 150.0, time.Now())
	ex.setPositions(position)
	tracker.Poll(context.Background())

	tracker.OnTick(types.Tick{Symbol: "AAPL", Last: 152.5, Time: time.Now()})

	mu.Lock()
	require.Len(t, updates, 1)
	assert.InDelta(t, 152.5, updates[0].CurrentPrice, 1e-9)
	assert.InDelta(t, 250.0, updates[0].UnrealizedPnL, 1e-9)
	mu.Unlock()

	assert.InDelta(t, 250.0, tracker.TotalUnrealizedPnL(), 1e-9)

	// Ticks for other symbols leave the book alone.
	tracker.OnTick(types.Tick{Symbol: "MSFT", Last: 400, Time: time.Now()})

	mu.Lock()
	assert.Len(t, updates, 1)
	mu.Unlock()
}

func TestPositionTrackerGetRefreshesOnMiss(t *testing.T) {
	ex := newFakeExchange()
	tracker := NewPositionTracker(ex, time.Second, nil)

	position := types.NewPosition("AAPL", types.PositionSideLong, 100, 150.0, time.Now())
	ex.setPositions(position)

	got, ok := tracker.Get(context.Background(), position.ID)
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.Symbol)

	_, ok = tracker.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestPositionTrackerStartStopIdempotent(t *testing.T) {
	ex := newFakeExchange()
	tracker := NewPositionTracker(ex, 10*time.Millisecond, nil)

	require.NoError(t, tracker.Start(context.Background()))
	require.NoError(t, tracker.Start(context.Background()))

	tracker.Stop()
	tracker.Stop()
}

func TestOrderManagerFillCallback(t *testing.T) {
	ex := newFakeExchange()
	manager := NewOrderManager(ex, time.Second, logger.NewNopLogger())

	var mu sync.Mutex
	var filled []types.Order

	manager.OnFill(func(o types.Order) {
		mu.Lock()
		defer mu.Unlock()
		filled = append(filled, o)
	})

	order, err := manager.PlaceLimit(context.Background(), "AAPL", types.OrderSideBuy, 100, 150.0)
	require.NoError(t, err)
	assert.Len(t, manager.Active(), 1)

	ex.fill(order.ID, 150.0)
	manager.Poll(context.Background())

	mu.Lock()
	require.Len(t, filled, 1)
	assert.Equal(t, order.ID, filled[0].ID)
	assert.InDelta(t, 150.0, filled[0].AvgFillPrice, 1e-9)
	mu.Unlock()

	// Terminal orders leave the active set.
	assert.Empty(t, manager.Active())
}

func TestOrderManagerCancelCallback(t *testing.T) {
	ex := newFakeExchange()
	manager := NewOrderManager(ex, time.Second, nil)

	var mu sync.Mutex
	var cancelled []types.Order

	manager.OnCancel(func(o types.Order) {
		mu.Lock()
		defer mu.Unlock()
		cancelled = append(cancelled, o)
	})

	order, err := manager.PlaceLimit(context.Background(), "AAPL", types.OrderSideBuy, 100, 150.0)
	require.NoError(t, err)

	require.NoError(t, manager.Cancel(context.Background(), order.ID))
	manager.Poll(context.Background())

	mu.Lock()
	require.Len(t, cancelled, 1)
	assert.Equal(t, types.OrderStatusCancelled, cancelled[0].Status)
	mu.Unlock()
}

func TestOrderManagerPollSurvivesStatusError(t *testing.T) {
	ex := newFakeExchange()
	manager := NewOrderManager(ex, time.Second, nil)

	bad, err := manager.PlaceLimit(context.Background(), "AAPL", types.OrderSideBuy, 100, 150.0)
	require.NoError(t, err)

	good, err := manager.PlaceLimit(context.Background(), "MSFT", types.OrderSideBuy, 50, 400.0)
	require.NoError(t, err)

	ex.statusErr[bad.ID] = errors.New(errors.ErrCodeOrderFailed, "broker timeout")
	ex.fill(good.ID, 400.0)

	var mu sync.Mutex
	var filled []types.Order

	manager.OnFill(func(o types.Order) {
		mu.Lock()
		defer mu.Unlock()
		filled = append(filled, o)
	})

	manager.Poll(context.Background())

	// The failing order stays tracked; the healthy one still resolved.
	mu.Lock()
	require.Len(t, filled, 1)
	assert.Equal(t, good.ID, filled[0].ID)
	mu.Unlock()

	assert.Len(t, manager.Active(), 1)
}

func TestOrderManagerRejectsInvalidOrder(t *testing.T) {
	ex := newFakeExchange()
	manager := NewOrderManager(ex, time.Second, nil)

	_, err := manager.PlaceMarket(context.Background(), "AAPL", types.OrderSideBuy, 0)
	require.Error(t, err)
	assert.Empty(t, manager.Active())
}

func TestOrderManagerGetFallsBackToBroker(t *testing.T) {
	ex := newFakeExchange()
	manager := NewOrderManager(ex, time.Second, nil)

	order := types.NewLimitOrder("AAPL", types.OrderSideBuy, 100, 150.0)
	placed, err := ex.PlaceOrder(context.Background(), order)
	require.NoError(t, err)

	got, ok := manager.Get(context.Background(), placed.ID)
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.Symbol)

	// The fallback lookup re-tracks active orders.
	assert.Len(t, manager.Active(), 1)

	_, ok = manager.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestOrderManagerModifyUpdatesTrackedCopy(t *testing.T) {
	ex := newFakeExchange()
	manager := NewOrderManager(ex, time.Second, nil)

	order, err := manager.PlaceLimit(context.Background(), "AAPL", types.OrderSideBuy, 100, 150.0)
	require.NoError(t, err)

	order.Quantity = 50
	modified, err := manager.Modify(context.Background(), order)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, modified.Quantity, 1e-9)

	active := manager.Active()
	require.Len(t, active, 1)
	assert.InDelta(t, 50.0, active[0].Quantity, 1e-9)
}
