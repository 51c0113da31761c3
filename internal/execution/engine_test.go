package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepterminal/deepterminal/internal/exchange"
	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/risk"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// fakeExchange is a scripted broker double. Orders rest until the test marks
// them filled, so the reconcile path can be driven deterministically.
type fakeExchange struct {
	mu           sync.Mutex
	connected    bool
	account      types.AccountInfo
	orders       map[string]*types.Order
	positions    []types.Position
	placeCalls   int
	cancelCalls  int
	placeErr     error
	statusErr    map[string]error
	lastPriceErr error
	fillOnPlace  bool
	cancelledIDs []string
}

var _ exchange.Exchange = (*fakeExchange)(nil)

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		connected: true,
		account: types.AccountInfo{
			Balance: 100000,
			Equity:  100000,
		},
		orders:    make(map[string]*types.Order),
		statusErr: make(map[string]error),
	}
}

func (f *fakeExchange) Connect(ctx context.Context) error    { f.mu.Lock(); defer f.mu.Unlock(); f.connected = true; return nil }
func (f *fakeExchange) Disconnect(ctx context.Context) error { f.mu.Lock(); defer f.mu.Unlock(); f.connected = false; return nil }
func (f *fakeExchange) IsConnected() bool                    { f.mu.Lock(); defer f.mu.Unlock(); return f.connected }

func (f *fakeExchange) PlaceOrder(ctx context.Context, order types.Order) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.placeCalls++

	if f.placeErr != nil {
		return types.Order{}, f.placeErr
	}

	order.BrokerOrderID = "broker-" + order.ID
	order.SetStatus(types.OrderStatusSubmitted, time.Now())

	if f.fillOnPlace {
		price := 0.0
		if order.Price.IsSome() {
			price = order.Price.Unwrap()
		}

		_ = order.ApplyFill(order.Quantity, price, time.Now())
	}

	stored := order
	f.orders[stored.ID] = &stored

	return stored, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelCalls++

	order, ok := f.orders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	order.SetStatus(types.OrderStatusCancelled, time.Now())
	f.cancelledIDs = append(f.cancelledIDs, orderID)

	return nil
}

func (f *fakeExchange) ModifyOrder(ctx context.Context, order types.Order) (types.Order, error) {
	return order, nil
}

func (f *fakeExchange) OrderStatus(ctx context.Context, orderID string) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.statusErr[orderID]; ok {
		return types.Order{}, err
	}

	order, ok := f.orders[orderID]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	return *order, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context) ([]types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	open := make([]types.Order, 0)
	for _, order := range f.orders {
		if order.IsActive() {
			open = append(open, *order)
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
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.account, nil
}

func (f *fakeExchange) LastPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lastPriceErr != nil {
		return 0, f.lastPriceErr
	}

	return 100, nil
}

func (f *fakeExchange) SubscribeTicks(ctx context.Context, symbols []string, handler exchange.TickHandler) error {
	<-ctx.Done()

	return ctx.Err()
}

// fill marks an order filled at the given price for the reconcile loop to
// pick up.
func (f *fakeExchange) fill(orderID string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order := f.orders[orderID]
	_ = order.ApplyFill(order.RemainingQuantity(), price, time.Now())
}

func newTestEngine(t *testing.T, ex exchange.Exchange) *Engine {
	t.Helper()

	calculator, err := risk.NewCalculator(risk.DefaultConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	config := DefaultConfig()
	// Keep the background loop quiet; tests drive reconciliation directly.
	config.ReconcileInterval = time.Hour

	engine, err := NewEngine(config, ex, calculator, nil, nil, logger.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)

	return engine
}

func entrySignal() types.Signal {
	return types.NewEntrySignal("AAPL", types.SignalDirectionLong, 100, 98, "test")
}

func TestProcessSignalPlacesEntryOrder(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	assert.True(t, engine.ProcessSignal(context.Background(), &signal))

	assert.Equal(t, 1, ex.placeCalls)
	assert.Equal(t, types.SignalStatusExecuted, signal.Status)
	require.Len(t, engine.ActiveOrders(), 1)

	order := engine.ActiveOrders()[0]
	assert.Equal(t, types.OrderSideBuy, order.Side)
	// 1% of 100000 over a 2 point stop distance
	assert.InDelta(t, 500.0, order.Quantity, 1e-9)
	assert.Equal(t, types.OrderReasonEntry, order.Reason)

	stats := engine.Statistics()
	assert.Equal(t, 1, stats.SignalsProcessed)
	assert.Equal(t, 1, stats.OrdersPlaced)
}

func TestProcessSignalRejectsDuplicate(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))

	placeCallsAfterFirst := ex.placeCalls

	// Replaying the same signal ID must be rejected without a broker call.
	duplicate := signal
	duplicate.Status = types.SignalStatusGenerated
	assert.False(t, engine.ProcessSignal(context.Background(), &duplicate))
	assert.Equal(t, placeCallsAfterFirst, ex.placeCalls)
	assert.Equal(t, 1, engine.Statistics().SignalsRejected)
}

func TestProcessSignalBackpressure(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	for i := 0; i < DefaultConfig().MaxConcurrentOrders; i++ {
		signal := entrySignal()
		require.True(t, engine.ProcessSignal(context.Background(), &signal))
	}

	placeCallsBefore := ex.placeCalls

	overflow := entrySignal()
	assert.False(t, engine.ProcessSignal(context.Background(), &overflow))
	assert.Equal(t, placeCallsBefore, ex.placeCalls)
}

func TestProcessSignalRejectsEntryWithoutStop(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := types.NewEntrySignal("AAPL", types.SignalDirectionLong, 100, 98, "test")
	signal.StopLoss = optional.None[float64]()

	assert.False(t, engine.ProcessSignal(context.Background(), &signal))
	assert.Equal(t, 0, ex.placeCalls)
	assert.Equal(t, types.SignalStatusInvalid, signal.Status)
}

func TestProcessSignalRejectsExpired(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	signal.ExpiresAt = optional.Some(time.Now().Add(-time.Minute))

	assert.False(t, engine.ProcessSignal(context.Background(), &signal))
	assert.Equal(t, 0, ex.placeCalls)
	assert.Equal(t, types.SignalStatusExpired, signal.Status)
}

func TestProcessSignalPlaceFailure(t *testing.T) {
	ex := newFakeExchange()
	ex.placeErr = errors.New(errors.ErrCodeOrderFailed, "broker down")
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	assert.False(t, engine.ProcessSignal(context.Background(), &signal))

	stats := engine.Statistics()
	assert.Equal(t, 1, stats.OrdersFailed)
	assert.Equal(t, 1, stats.SignalsRejected)

	// The failed signal was not marked processed, so a retry may succeed.
	ex.placeErr = nil
	retry := signal
	retry.Status = types.SignalStatusGenerated
	assert.True(t, engine.ProcessSignal(context.Background(), &retry))
}

func TestEntryFillOpensPositionAndProtectiveOrders(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	signal.TakeProfit = optional.Some(104.0)
	require.True(t, engine.ProcessSignal(context.Background(), &signal))

	entryOrderID := engine.ActiveOrders()[0].ID
	ex.fill(entryOrderID, 100)

	engine.reconcileOnce(context.Background())

	positions := engine.ActivePositions()
	require.Len(t, positions, 1)
	assert.Equal(t, types.PositionSideLong, positions[0].Side)
	assert.InDelta(t, 500.0, positions[0].Quantity, 1e-9)
	assert.InDelta(t, 100.0, positions[0].EntryPrice, 1e-9)

	// Entry order evicted, stop and take-profit now active.
	orders := engine.ActiveOrders()
	require.Len(t, orders, 2)

	reasons := map[string]bool{}
	for _, order := range orders {
		reasons[order.Reason] = true
		assert.Equal(t, positions[0].ID, order.PositionID)
		assert.Equal(t, types.OrderSideSell, order.Side)
	}

	assert.True(t, reasons[types.OrderReasonStopLoss])
	assert.True(t, reasons[types.OrderReasonTakeProfit])

	stats := engine.Statistics()
	assert.Equal(t, 1, stats.PositionsOpened)
	assert.Equal(t, 1, stats.OrdersFilled)
	assert.Equal(t, 3, stats.OrdersPlaced)
}

func TestExitFillClosesPositionAndCancelsSiblings(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	signal.TakeProfit = optional.Some(104.0)
	require.True(t, engine.ProcessSignal(context.Background(), &signal))

	entryOrderID := engine.ActiveOrders()[0].ID
	ex.fill(entryOrderID, 100)
	engine.reconcileOnce(context.Background())

	positions := engine.ActivePositions()
	require.Len(t, positions, 1)

	// Take-profit fills; the stop must be cancelled.
	var takeProfitID, stopID string

	for _, order := range engine.ActiveOrders() {
		switch order.Reason {
		case types.OrderReasonTakeProfit:
			takeProfitID = order.ID
		case types.OrderReasonStopLoss:
			stopID = order.ID
		}
	}

	ex.fill(takeProfitID, 104)
	engine.reconcileOnce(context.Background())

	assert.Empty(t, engine.ActivePositions())
	assert.Empty(t, engine.ActiveOrders())
	assert.Contains(t, ex.cancelledIDs, stopID)

	stats := engine.Statistics()
	assert.Equal(t, 1, stats.PositionsClosed)
	// 4 points on 500 shares
	assert.InDelta(t, 2000.0, stats.RealizedPnL, 1e-9)
}

func TestExitSignalFlattensPosition(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))
	ex.fill(engine.ActiveOrders()[0].ID, 100)
	engine.reconcileOnce(context.Background())

	positions := engine.ActivePositions()
	require.Len(t, positions, 1)

	exit := types.NewExitSignal("AAPL", positions[0].ID, 110, "test")
	require.True(t, engine.ProcessSignal(context.Background(), &exit))

	var exitOrderID string

	for _, order := range engine.ActiveOrders() {
		if order.Reason == types.OrderReasonExit {
			exitOrderID = order.ID
		}
	}

	require.NotEmpty(t, exitOrderID)
	ex.fill(exitOrderID, 110)
	engine.reconcileOnce(context.Background())

	assert.Empty(t, engine.ActivePositions())
	assert.InDelta(t, 5000.0, engine.Statistics().RealizedPnL, 1e-9)
}

func TestProcessSignalRequiresRunningEngine(t *testing.T) {
	ex := newFakeExchange()

	calculator, err := risk.NewCalculator(risk.DefaultConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	engine, err := NewEngine(DefaultConfig(), ex, calculator, nil, nil, logger.NewNopLogger())
	require.NoError(t, err)

	signal := entrySignal()
	assert.False(t, engine.ProcessSignal(context.Background(), &signal))
	assert.Equal(t, 0, ex.placeCalls)
	assert.Equal(t, 1, engine.Statistics().SignalsRejected)

	// The same signal goes through once the engine is running.
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	assert.True(t, engine.ProcessSignal(context.Background(), &signal))
	assert.Equal(t, 1, ex.placeCalls)
}

func TestEntrySignalUsesSignalPriceAsLimit(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))

	order := engine.ActiveOrders()[0]
	assert.Equal(t, types.OrderTypeLimit, order.Type)
	assert.InDelta(t, 100.0, order.Price.Unwrap(), 1e-9)
}

func TestEntrySignalFallsBackToLastPrice(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	signal.EntryPrice = optional.None[float64]()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))

	// No suggested price means a market order sized off the last trade.
	order := engine.ActiveOrders()[0]
	assert.Equal(t, types.OrderTypeMarket, order.Type)
	assert.InDelta(t, 500.0, order.Quantity, 1e-9)
}

func TestEntrySignalRejectedWithoutAnyPrice(t *testing.T) {
	ex := newFakeExchange()
	ex.lastPriceErr = errors.New(errors.ErrCodeQuoteNotFound, "no quote")
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	signal.EntryPrice = optional.None[float64]()

	assert.False(t, engine.ProcessSignal(context.Background(), &signal))
	assert.Equal(t, 0, ex.placeCalls)
	assert.Equal(t, types.SignalStatusInvalid, signal.Status)
}

func TestExitSignalResolvesPositionBySymbol(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))
	ex.fill(engine.ActiveOrders()[0].ID, 100)
	engine.reconcileOnce(context.Background())
	require.Len(t, engine.ActivePositions(), 1)

	// Strategies working off broker snapshots carry snapshot position IDs
	// that never match the engine's own; the symbol resolves it anyway.
	exit := types.NewExitSignal("AAPL", "AAPL_1234", 110, "test")
	require.True(t, engine.ProcessSignal(context.Background(), &exit))

	found := false
	for _, order := range engine.ActiveOrders() {
		if order.Reason == types.OrderReasonExit {
			found = true
			assert.Equal(t, engine.ActivePositions()[0].ID, order.PositionID)
		}
	}

	assert.True(t, found)
}

func TestExitSignalAdoptsBrokerPosition(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	broker := types.NewPosition("AAPL", types.PositionSideLong, 500, 100, time.Now())
	ex.mu.Lock()
	ex.positions = []types.Position{broker}
	ex.mu.Unlock()

	exit := types.NewExitSignal("AAPL", broker.ID, 110, "test")
	require.True(t, engine.ProcessSignal(context.Background(), &exit))

	// The broker position is cached locally and the exit order targets it.
	require.Len(t, engine.ActivePositions(), 1)
	assert.Equal(t, broker.ID, engine.ActivePositions()[0].ID)
	assert.Equal(t, 1, ex.placeCalls)
}

func TestExitSignalUnknownPosition(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	exit := types.NewExitSignal("AAPL", "missing", 110, "test")
	assert.False(t, engine.ProcessSignal(context.Background(), &exit))
	assert.Equal(t, 0, ex.placeCalls)
}

func TestReconcileSurvivesPerOrderErrors(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	first := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &first))

	second := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &second))

	orders := engine.ActiveOrders()
	require.Len(t, orders, 2)

	// First order errors on status fetch, second fills.
	ex.statusErr[orders[0].ID] = errors.New(errors.ErrCodeUnknown, "transient broker error")
	ex.fill(orders[1].ID, 100)

	engine.reconcileOnce(context.Background())

	// The loop did not stall: the healthy order opened its position and the
	// faulty one is still tracked for the next pass.
	assert.Len(t, engine.ActivePositions(), 1)

	remaining := engine.ActiveOrders()
	found := false

	for _, order := range remaining {
		if order.ID == orders[0].ID {
			found = true
		}
	}

	assert.True(t, found)
}

func TestReconcileEvictsTerminalOrders(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))

	orderID := engine.ActiveOrders()[0].ID

	ex.mu.Lock()
	ex.orders[orderID].SetStatus(types.OrderStatusRejected, time.Now())
	ex.mu.Unlock()

	engine.reconcileOnce(context.Background())

	assert.Empty(t, engine.ActiveOrders())
	assert.Equal(t, 1, engine.Statistics().OrdersFailed)
}

func TestEmergencyCloseAll(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))
	ex.fill(engine.ActiveOrders()[0].ID, 100)
	engine.reconcileOnce(context.Background())

	require.Len(t, engine.ActivePositions(), 1)
	activeBefore := len(engine.ActiveOrders())
	require.Greater(t, activeBefore, 0)

	closed, failed := engine.EmergencyCloseAll(context.Background())
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, failed)
	assert.GreaterOrEqual(t, ex.cancelCalls, activeBefore)
}

func TestEmergencyCloseAllBestEffort(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))
	ex.fill(engine.ActiveOrders()[0].ID, 100)
	engine.reconcileOnce(context.Background())

	ex.placeErr = errors.New(errors.ErrCodeOrderFailed, "broker down")

	closed, failed := engine.EmergencyCloseAll(context.Background())
	assert.Equal(t, 0, closed)
	assert.Equal(t, 1, failed)

	// The position is still tracked for a later retry.
	assert.Len(t, engine.ActivePositions(), 1)
}

func TestStartStopIdempotent(t *testing.T) {
	ex := newFakeExchange()
	engine := newTestEngine(t, ex)

	require.NoError(t, engine.Start(context.Background()))
	require.NoError(t, engine.Start(context.Background()))
	assert.True(t, engine.IsRunning())

	engine.Stop()
	engine.Stop()
	assert.False(t, engine.IsRunning())
}

func TestSynchronousFillOpensPositionImmediately(t *testing.T) {
	ex := newFakeExchange()
	ex.fillOnPlace = true
	engine := newTestEngine(t, ex)

	signal := entrySignal()
	require.True(t, engine.ProcessSignal(context.Background(), &signal))

	// No reconcile pass needed: the placement response carried the fill.
	require.Len(t, engine.ActivePositions(), 1)
	assert.InDelta(t, 100.0, engine.ActivePositions()[0].EntryPrice, 1e-9)
}
