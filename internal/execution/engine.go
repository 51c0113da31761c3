// Package execution turns strategy signals into broker orders and keeps the
// engine's view of orders and positions reconciled with the broker.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/deepterminal/deepterminal/internal/exchange"
	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/metrics"
	"github.com/deepterminal/deepterminal/internal/risk"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// Config holds the engine's limits and timings.
type Config struct {
	// MaxConcurrentOrders rejects new signals while this many orders are active.
	MaxConcurrentOrders int `yaml:"max_concurrent_orders" json:"max_concurrent_orders" validate:"required,gte=1"`
	// ReconcileInterval is the broker polling cadence.
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval" validate:"required,gt=0"`
	// DefaultRiskPct is the risk fraction used when a signal does not carry one.
	DefaultRiskPct float64 `yaml:"default_risk_pct" json:"default_risk_pct" validate:"gt=0,lte=1"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentOrders: 10,
		ReconcileInterval:   time.Second,
		DefaultRiskPct:      0.01,
	}
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid engine config", err)
	}

	return nil
}

// Stats are the engine's lifetime counters.
type Stats struct {
	SignalsProcessed int     `json:"signals_processed"`
	SignalsRejected  int     `json:"signals_rejected"`
	OrdersPlaced     int     `json:"orders_placed"`
	OrdersFilled     int     `json:"orders_filled"`
	OrdersCancelled  int     `json:"orders_cancelled"`
	OrdersFailed     int     `json:"orders_failed"`
	PositionsOpened  int     `json:"positions_opened"`
	PositionsClosed  int     `json:"positions_closed"`
	RealizedPnL      float64 `json:"realized_pnl"`
}

// Engine processes signals into orders, reconciles them against the broker on
// an interval, opens positions on entry fills, places protective orders, and
// closes positions on exit fills. All of its maps are mutex-guarded; the
// reconcile loop runs on a single background goroutine.
type Engine struct {
	config     Config
	exchange   exchange.Exchange
	calculator *risk.Calculator
	store      *HistoryStore
	recorder   *metrics.Recorder
	logger     *logger.Logger

	mu               sync.RWMutex
	activeOrders     map[string]*types.Order
	activePositions  map[string]*types.Position
	processedSignals map[string]struct{}
	signalOrders     map[string][]string
	instruments      map[string]types.Instrument
	stats            Stats

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEngine creates an engine. The store and recorder may be nil; trading
// proceeds without history or metrics in that case.
func NewEngine(config Config, ex exchange.Exchange, calculator *risk.Calculator,
	store *HistoryStore, recorder *metrics.Recorder, log *logger.Logger,
) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if ex == nil {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "exchange is required")
	}

	if calculator == nil {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "risk calculator is required")
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Engine{
		config:           config,
		exchange:         ex,
		calculator:       calculator,
		store:            store,
		recorder:         recorder,
		logger:           log.Named("execution"),
		activeOrders:     make(map[string]*types.Order),
		activePositions:  make(map[string]*types.Position),
		processedSignals: make(map[string]struct{}),
		signalOrders:     make(map[string][]string),
		instruments:      make(map[string]types.Instrument),
	}, nil
}

// RegisterInstrument supplies contract details used for sizing. Symbols
// without a registered instrument size with stock-like defaults.
func (e *Engine) RegisterInstrument(instrument types.Instrument) error {
	if err := instrument.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.instruments[instrument.Symbol] = instrument

	return nil
}

func (e *Engine) instrumentFor(symbol string) types.Instrument {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if instrument, ok := e.instruments[symbol]; ok {
		return instrument
	}

	return types.NewInstrument(symbol, "UNKNOWN", types.InstrumentTypeStock)
}

// Start connects the exchange if needed and launches the reconcile loop.
// Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running {
		return nil
	}

	if !e.exchange.IsConnected() {
		if err := e.exchange.Connect(ctx); err != nil {
			return errors.Wrap(errors.ErrCodeNotConnected, "failed to connect exchange", err)
		}
	}

	e.done = make(chan struct{})
	e.running = true

	e.wg.Add(1)
	go e.reconcileLoop()

	e.logger.Info("execution engine started",
		zap.Int("max_concurrent_orders", e.config.MaxConcurrentOrders),
		zap.Duration("reconcile_interval", e.config.ReconcileInterval))

	return nil
}

// Stop signals the reconcile loop and waits for it to drain. Stopping a
// stopped engine is a no-op.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if !e.running {
		return
	}

	close(e.done)
	e.wg.Wait()
	e.running = false

	e.logger.Info("execution engine stopped")
}

// IsRunning reports whether the reconcile loop is live.
func (e *Engine) IsRunning() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	return e.running
}

func (e *Engine) reconcileLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.config.ReconcileInterval)
			e.reconcileOnce(ctx)
			cancel()
		}
	}
}

// ProcessSignal validates, sizes, and places orders for a signal. It returns
// false when the signal is rejected for any reason; the cause is logged, not
// raised, because rejection is an expected outcome.
func (e *Engine) ProcessSignal(ctx context.Context, signal *types.Signal) bool {
	if signal == nil {
		return false
	}

	if !e.IsRunning() {
		e.logger.Warn("rejecting signal, engine not running", zap.String("signal_id", signal.ID))
		e.rejectSignal(signal)

		return false
	}

	if !signal.IsActive(time.Now()) {
		e.logger.Info("rejecting inactive signal",
			zap.String("signal_id", signal.ID), zap.String("status", string(signal.Status)))
		e.rejectSignal(signal)

		return false
	}

	e.mu.Lock()
	if _, seen := e.processedSignals[signal.ID]; seen {
		e.mu.Unlock()
		e.logger.Warn("rejecting duplicate signal", zap.String("signal_id", signal.ID))
		e.rejectSignal(signal)

		return false
	}

	if len(e.activeOrders) >= e.config.MaxConcurrentOrders {
		e.mu.Unlock()
		e.logger.Warn("rejecting signal, order limit reached",
			zap.String("signal_id", signal.ID),
			zap.Int("limit", e.config.MaxConcurrentOrders))
		e.rejectSignal(signal)

		return false
	}
	e.mu.Unlock()

	switch signal.Type {
	case types.SignalTypeEntry:
		return e.processEntrySignal(ctx, signal)
	case types.SignalTypeExit:
		return e.processExitSignal(ctx, signal)
	default:
		e.logger.Info("alert signal, no action",
			zap.String("signal_id", signal.ID), zap.String("reason", signal.Reason))
		e.rejectSignal(signal)

		return false
	}
}

func (e *Engine) rejectSignal(signal *types.Signal) {
	e.mu.Lock()
	e.stats.SignalsRejected++
	e.mu.Unlock()

	e.recorder.RecordSignal(signal.StrategyName, false)
}

func (e *Engine) processEntrySignal(ctx context.Context, signal *types.Signal) bool {
	if signal.StopLoss.IsNone() {
		signal.Invalidate("entry signal requires a stop loss")
		e.logger.Warn("rejecting entry signal without a stop", zap.String("signal_id", signal.ID))
		e.rejectSignal(signal)

		return false
	}

	// The signal's suggested price wins; otherwise enter at the last trade.
	hasSignalPrice := signal.EntryPrice.IsSome()
	entryPrice := signal.EntryPrice.TakeOr(0)

	if !hasSignalPrice {
		last, err := e.exchange.LastPrice(ctx, signal.Symbol)
		if err != nil {
			signal.Invalidate("no entry price and no quote available")
			e.logger.Warn("rejecting entry signal without a price",
				zap.String("signal_id", signal.ID), zap.Error(err))
			e.rejectSignal(signal)

			return false
		}

		entryPrice = last
	}

	account, err := e.exchange.AccountInfo(ctx)
	if err != nil {
		e.logger.Error("failed to fetch account for sizing",
			zap.String("signal_id", signal.ID), zap.Error(err))
		e.rejectSignal(signal)

		return false
	}

	e.recorder.RecordEquity(account.Equity)

	instrument := e.instrumentFor(signal.Symbol)
	riskReward := 0.0

	if rr := signal.RiskReward(); rr.IsSome() {
		riskReward = rr.Unwrap()
	}

	sized := e.calculator.PositionSize(risk.SizeRequest{
		Balance:    account.Balance,
		EntryPrice: entryPrice,
		StopLoss:   signal.StopLoss.Unwrap(),
		RiskPct:    e.config.DefaultRiskPct,
		RiskReward: riskReward,
		Instrument: instrument,
	})

	quantity := sized.Quantity
	if signal.Quantity.IsSome() && signal.Quantity.Unwrap() < quantity {
		quantity = signal.Quantity.Unwrap()
	}

	if quantity <= 0 {
		e.logger.Warn("signal sized to zero", zap.String("signal_id", signal.ID))
		e.rejectSignal(signal)

		return false
	}

	valid, reason := e.calculator.ValidateTrade(risk.SizeRequest{
		Balance:    account.Balance,
		EntryPrice: entryPrice,
		StopLoss:   signal.StopLoss.Unwrap(),
		Instrument: instrument,
	}, quantity)
	if !valid {
		e.logger.Warn("trade validation rejected signal",
			zap.String("signal_id", signal.ID), zap.String("reason", reason))
		e.rejectSignal(signal)

		return false
	}

	side := types.OrderSideBuy
	if signal.Direction == types.SignalDirectionShort {
		side = types.OrderSideSell
	}

	// A suggested price makes it a limit order; otherwise go in at market.
	var order types.Order
	if hasSignalPrice {
		order = types.NewLimitOrder(signal.Symbol, side, quantity, entryPrice)
	} else {
		order = types.NewMarketOrder(signal.Symbol, side, quantity)
	}

	order.StopLoss = signal.StopLoss
	order.TakeProfit = signal.TakeProfit
	order.SignalID = signal.ID
	order.Reason = types.OrderReasonEntry
	order.StrategyName = signal.StrategyName

	return e.placeSignalOrder(ctx, signal, order)
}

func (e *Engine) processExitSignal(ctx context.Context, signal *types.Signal) bool {
	position := e.resolvePosition(ctx, signal)
	if position == nil {
		e.logger.Warn("exit signal for unknown position",
			zap.String("signal_id", signal.ID), zap.String("position_id", signal.PositionID))
		e.rejectSignal(signal)

		return false
	}

	side := types.OrderSideSell
	if position.Side == types.PositionSideShort {
		side = types.OrderSideBuy
	}

	// The exit price rides in the entry price field; a suggested price makes
	// it a limit order, otherwise flatten at market.
	var order types.Order
	if signal.EntryPrice.IsSome() {
		order = types.NewLimitOrder(position.Symbol, side, position.Quantity, signal.EntryPrice.Unwrap())
	} else {
		order = types.NewMarketOrder(position.Symbol, side, position.Quantity)
	}

	order.SignalID = signal.ID
	order.PositionID = position.ID
	order.Reason = types.OrderReasonExit
	order.StrategyName = signal.StrategyName

	return e.placeSignalOrder(ctx, signal, order)
}

// resolvePosition finds the position an exit signal targets: by ID in the
// local cache, then by symbol, and finally by asking the broker and lazily
// populating the cache. Strategies built on broker snapshots carry snapshot
// position IDs, which never match the engine's own.
func (e *Engine) resolvePosition(ctx context.Context, signal *types.Signal) *types.Position {
	e.mu.RLock()
	if position, ok := e.activePositions[signal.PositionID]; ok {
		e.mu.RUnlock()

		return position
	}

	for _, position := range e.activePositions {
		if position.Symbol == signal.Symbol {
			e.mu.RUnlock()

			return position
		}
	}
	e.mu.RUnlock()

	remote, err := e.exchange.Positions(ctx)
	if err != nil {
		e.logger.Error("failed to query broker positions",
			zap.String("signal_id", signal.ID), zap.Error(err))

		return nil
	}

	for i := range remote {
		if remote[i].Symbol != signal.Symbol {
			continue
		}

		position := remote[i]

		e.mu.Lock()
		e.activePositions[position.ID] = &position
		e.mu.Unlock()

		e.logger.Info("adopted broker position",
			zap.String("position_id", position.ID), zap.String("symbol", position.Symbol))

		return &position
	}

	return nil
}

func (e *Engine) placeSignalOrder(ctx context.Context, signal *types.Signal, order types.Order) bool {
	placed, err := e.exchange.PlaceOrder(ctx, order)
	if err != nil {
		e.mu.Lock()
		e.stats.OrdersFailed++
		e.mu.Unlock()

		e.logger.Error("order placement failed",
			zap.String("signal_id", signal.ID),
			zap.String("symbol", order.Symbol), zap.Error(err))
		e.rejectSignal(signal)

		return false
	}

	e.mu.Lock()
	e.processedSignals[signal.ID] = struct{}{}
	e.trackOrderLocked(&placed)
	e.signalOrders[signal.ID] = append(e.signalOrders[signal.ID], placed.ID)
	e.stats.SignalsProcessed++
	e.stats.OrdersPlaced++
	e.mu.Unlock()

	if err := signal.Execute([]string{placed.ID}, placed.PositionID); err != nil {
		e.logger.Warn("failed to mark signal executed",
			zap.String("signal_id", signal.ID), zap.Error(err))
	}

	e.recorder.RecordSignal(signal.StrategyName, true)
	e.recorder.RecordOrder(placed.Symbol, string(placed.Side), string(placed.Status))

	if e.store != nil {
		_ = e.store.RecordOrder(placed)
	}

	e.logger.Info("order placed",
		zap.String("order_id", placed.ID),
		zap.String("symbol", placed.Symbol),
		zap.String("side", string(placed.Side)),
		zap.Float64("quantity", placed.Quantity),
		zap.String("reason", placed.Reason))

	// Brokers that fill synchronously report the fill on the placement
	// response; there is nothing for the reconcile loop to observe.
	if placed.IsFilled() {
		e.mu.Lock()
		e.stats.OrdersFilled++
		e.mu.Unlock()

		e.handleFill(ctx, placed, placed.FilledQuantity, placed.AvgFillPrice)
	}

	return true
}

// trackOrderLocked indexes an order; terminal orders are not tracked.
func (e *Engine) trackOrderLocked(order *types.Order) {
	if order.IsActive() {
		e.activeOrders[order.ID] = order
	}
}

// reconcileOnce fetches the broker state of every active order and applies
// the differences. Each order is handled independently so one broker error
// never stalls the rest.
func (e *Engine) reconcileOnce(ctx context.Context) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.activeOrders))
	for id := range e.activeOrders {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		if err := e.reconcileOrder(ctx, id); err != nil {
			e.recorder.RecordReconcileError()
			e.logger.Error("failed to reconcile order", zap.String("order_id", id), zap.Error(err))
		}
	}
}

func (e *Engine) reconcileOrder(ctx context.Context, orderID string) error {
	remote, err := e.exchange.OrderStatus(ctx, orderID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	local, ok := e.activeOrders[orderID]
	if !ok {
		e.mu.Unlock()

		return nil
	}

	fillDelta := decimal.NewFromFloat(remote.FilledQuantity).
		Sub(decimal.NewFromFloat(local.FilledQuantity))
	deltaPrice := fillDeltaPrice(local, &remote, fillDelta)

	wasFilled := local.IsFilled()
	local.FilledQuantity = remote.FilledQuantity
	local.AvgFillPrice = remote.AvgFillPrice
	local.SetStatus(remote.Status, time.Now())

	if !local.IsActive() {
		delete(e.activeOrders, orderID)
	}

	switch remote.Status {
	case types.OrderStatusCancelled, types.OrderStatusExpired:
		e.stats.OrdersCancelled++
	case types.OrderStatusRejected, types.OrderStatusError:
		e.stats.OrdersFailed++
	case types.OrderStatusFilled:
		if !wasFilled {
			e.stats.OrdersFilled++
		}
	}

	order := *local
	e.mu.Unlock()

	if fillDelta.GreaterThan(decimal.Zero) {
		deltaQty, _ := fillDelta.Float64()
		e.handleFill(ctx, order, deltaQty, deltaPrice)
	}

	if !order.IsActive() && order.Status != types.OrderStatusFilled {
		e.recorder.RecordOrder(order.Symbol, string(order.Side), string(order.Status))
	}

	return nil
}

// fillDeltaPrice infers the price of the newly filled quantity from the
// change in the broker's running average.
func fillDeltaPrice(local, remote *types.Order, delta decimal.Decimal) float64 {
	if delta.LessThanOrEqual(decimal.Zero) {
		return remote.AvgFillPrice
	}

	remoteNotional := decimal.NewFromFloat(remote.FilledQuantity).
		Mul(decimal.NewFromFloat(remote.AvgFillPrice))
	localNotional := decimal.NewFromFloat(local.FilledQuantity).
		Mul(decimal.NewFromFloat(local.AvgFillPrice))

	price, _ := remoteNotional.Sub(localNotional).Div(delta).Float64()

	return price
}

func (e *Engine) handleFill(ctx context.Context, order types.Order, quantity, price float64) {
	fill := types.Fill{
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: quantity,
		Price:    price,
		Time:     time.Now(),
	}

	if e.store != nil {
		_ = e.store.RecordFill(fill)
	}

	e.recorder.RecordOrder(order.Symbol, string(order.Side), string(order.Status))

	if !order.IsFilled() {
		return
	}

	switch order.Reason {
	case types.OrderReasonEntry:
		e.openPositionForFill(ctx, order)
	case types.OrderReasonExit, types.OrderReasonStopLoss, types.OrderReasonTakeProfit, types.OrderReasonEmergency:
		e.closePositionForFill(ctx, order)
	default:
		e.logger.Warn("filled order carries no lifecycle reason", zap.String("order_id", order.ID))
	}
}

func (e *Engine) openPositionForFill(ctx context.Context, order types.Order) {
	side := types.PositionSideLong
	if order.Side == types.OrderSideSell {
		side = types.PositionSideShort
	}

	position := types.NewPosition(order.Symbol, side, order.FilledQuantity, order.AvgFillPrice, time.Now())
	position.ContractSize = e.instrumentFor(order.Symbol).ContractSize
	position.SignalID = order.SignalID
	position.StrategyName = order.StrategyName
	position.StopLoss = order.StopLoss
	position.TakeProfit = order.TakeProfit

	e.mu.Lock()
	e.activePositions[position.ID] = &position
	e.stats.PositionsOpened++
	e.mu.Unlock()

	e.recorder.RecordPositionOpened(position.Symbol)
	e.logger.Info("position opened",
		zap.String("position_id", position.ID),
		zap.String("side", string(side)),
		zap.Float64("quantity", position.Quantity),
		zap.Float64("entry", position.EntryPrice))

	e.placeProtectiveOrders(ctx, &position)
}

// placeProtectiveOrders places the stop and take-profit guarding a fresh
// position. Failures are logged and the position stays open unguarded; the
// next strategy pass can retry via an exit signal.
func (e *Engine) placeProtectiveOrders(ctx context.Context, position *types.Position) {
	exitSide := types.OrderSideSell
	if position.Side == types.PositionSideShort {
		exitSide = types.OrderSideBuy
	}

	if position.StopLoss.IsSome() {
		stop := types.NewStopOrder(position.Symbol, exitSide, position.Quantity, position.StopLoss.Unwrap())
		stop.PositionID = position.ID
		stop.Reason = types.OrderReasonStopLoss
		stop.StrategyName = position.StrategyName

		e.placeProtectiveOrder(ctx, stop)
	}

	if position.TakeProfit.IsSome() {
		target := types.NewLimitOrder(position.Symbol, exitSide, position.Quantity, position.TakeProfit.Unwrap())
		target.PositionID = position.ID
		target.Reason = types.OrderReasonTakeProfit
		target.StrategyName = position.StrategyName

		e.placeProtectiveOrder(ctx, target)
	}
}

func (e *Engine) placeProtectiveOrder(ctx context.Context, order types.Order) {
	placed, err := e.exchange.PlaceOrder(ctx, order)
	if err != nil {
		e.mu.Lock()
		e.stats.OrdersFailed++
		e.mu.Unlock()

		e.logger.Error("failed to place protective order",
			zap.String("position_id", order.PositionID),
			zap.String("reason", order.Reason), zap.Error(err))

		return
	}

	e.mu.Lock()
	e.trackOrderLocked(&placed)
	e.stats.OrdersPlaced++
	e.mu.Unlock()

	if e.store != nil {
		_ = e.store.RecordOrder(placed)
	}

	e.recorder.RecordOrder(placed.Symbol, string(placed.Side), string(placed.Status))
	e.logger.Info("protective order placed",
		zap.String("order_id", placed.ID),
		zap.String("position_id", placed.PositionID),
		zap.String("reason", placed.Reason))

	if placed.IsFilled() {
		e.mu.Lock()
		e.stats.OrdersFilled++
		e.mu.Unlock()

		e.handleFill(ctx, placed, placed.FilledQuantity, placed.AvgFillPrice)
	}
}

func (e *Engine) closePositionForFill(ctx context.Context, order types.Order) {
	e.mu.Lock()
	position, ok := e.activePositions[order.PositionID]
	if !ok {
		e.mu.Unlock()
		e.logger.Warn("exit fill for unknown position",
			zap.String("order_id", order.ID), zap.String("position_id", order.PositionID))

		return
	}

	quantity := order.FilledQuantity
	if quantity > position.Quantity {
		quantity = position.Quantity
	}

	if err := position.Close(order.AvgFillPrice, quantity, time.Now()); err != nil {
		e.mu.Unlock()
		e.logger.Error("failed to close position",
			zap.String("position_id", position.ID), zap.Error(err))

		return
	}

	fullyClosed := !position.IsOpen()
	snapshot := *position

	if fullyClosed {
		delete(e.activePositions, position.ID)
		e.stats.PositionsClosed++

		realized := decimal.NewFromFloat(e.stats.RealizedPnL).
			Add(decimal.NewFromFloat(snapshot.RealizedPnL))
		e.stats.RealizedPnL, _ = realized.Float64()
	}

	realizedTotal := e.stats.RealizedPnL
	e.mu.Unlock()

	e.logger.Info("position close fill applied",
		zap.String("position_id", snapshot.ID),
		zap.Float64("exit", order.AvgFillPrice),
		zap.Float64("realized", snapshot.RealizedPnL),
		zap.Bool("fully_closed", fullyClosed))

	if !fullyClosed {
		return
	}

	e.cancelSiblingOrders(ctx, snapshot.ID, order.ID)
	e.recorder.RecordPositionClosed(snapshot.Symbol)
	e.recorder.RecordTrade(snapshot.Symbol, snapshot.RealizedPnL > 0)
	e.recorder.RecordRealizedPnL(realizedTotal)

	if e.store != nil {
		closeTime := time.Now()
		if snapshot.CloseTime.IsSome() {
			closeTime = snapshot.CloseTime.Unwrap()
		}

		_ = e.store.RecordTrade(types.Trade{
			PositionID:   snapshot.ID,
			Symbol:       snapshot.Symbol,
			Side:         snapshot.Side,
			Quantity:     order.FilledQuantity,
			EntryPrice:   snapshot.EntryPrice,
			ExitPrice:    order.AvgFillPrice,
			RealizedPnL:  snapshot.RealizedPnL,
			StrategyName: snapshot.StrategyName,
			OpenTime:     snapshot.OpenTime,
			CloseTime:    closeTime,
		})
	}
}

// cancelSiblingOrders cancels the remaining active orders linked to a fully
// closed position, e.g. the take-profit after the stop filled.
func (e *Engine) cancelSiblingOrders(ctx context.Context, positionID, filledOrderID string) {
	e.mu.RLock()
	siblings := make([]string, 0)

	for id, order := range e.activeOrders {
		if order.PositionID == positionID && id != filledOrderID {
			siblings = append(siblings, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range siblings {
		if err := e.exchange.CancelOrder(ctx, id); err != nil {
			e.logger.Error("failed to cancel sibling order",
				zap.String("order_id", id), zap.Error(err))

			continue
		}

		e.mu.Lock()
		if order, ok := e.activeOrders[id]; ok {
			order.SetStatus(types.OrderStatusCancelled, time.Now())
			delete(e.activeOrders, id)
			e.stats.OrdersCancelled++
		}
		e.mu.Unlock()
	}
}

// EmergencyCloseAll flattens every tracked position with market orders and
// cancels all active orders. It is best-effort: failures are logged and
// counted, never raised, and the remaining positions are still attempted.
func (e *Engine) EmergencyCloseAll(ctx context.Context) (closed, failed int) {
	e.mu.RLock()
	orderIDs := make([]string, 0, len(e.activeOrders))
	for id := range e.activeOrders {
		orderIDs = append(orderIDs, id)
	}

	positions := make([]*types.Position, 0, len(e.activePositions))
	for _, position := range e.activePositions {
		positions = append(positions, position)
	}
	e.mu.RUnlock()

	for _, id := range orderIDs {
		if err := e.exchange.CancelOrder(ctx, id); err != nil {
			e.logger.Error("emergency cancel failed", zap.String("order_id", id), zap.Error(err))

			continue
		}

		e.mu.Lock()
		delete(e.activeOrders, id)
		e.stats.OrdersCancelled++
		e.mu.Unlock()
	}

	for _, position := range positions {
		side := types.OrderSideSell
		if position.Side == types.PositionSideShort {
			side = types.OrderSideBuy
		}

		order := types.NewMarketOrder(position.Symbol, side, position.Quantity)
		order.PositionID = position.ID
		order.Reason = types.OrderReasonEmergency
		order.Price = optional.Some(position.CurrentPrice)

		placed, err := e.exchange.PlaceOrder(ctx, order)
		if err != nil {
			failed++

			e.logger.Error("emergency close failed",
				zap.String("position_id", position.ID), zap.Error(err))

			continue
		}

		closed++

		e.mu.Lock()
		e.trackOrderLocked(&placed)
		e.stats.OrdersPlaced++
		e.mu.Unlock()

		if e.store != nil {
			_ = e.store.RecordOrder(placed)
		}

		if placed.IsFilled() {
			e.handleFill(ctx, placed, placed.FilledQuantity, placed.AvgFillPrice)
		}
	}

	e.logger.Warn("emergency close-all finished",
		zap.Int("closed", closed), zap.Int("failed", failed))

	return closed, failed
}

// Statistics returns a copy of the engine's counters.
func (e *Engine) Statistics() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.stats
}

// ActiveOrders returns a snapshot of the orders still working at the broker.
func (e *Engine) ActiveOrders() []types.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	orders := make([]types.Order, 0, len(e.activeOrders))
	for _, order := range e.activeOrders {
		orders = append(orders, *order)
	}

	return orders
}

// ActivePositions returns a snapshot of the engine's open positions.
func (e *Engine) ActivePositions() []types.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	positions := make([]types.Position, 0, len(e.activePositions))
	for _, position := range e.activePositions {
		positions = append(positions, *position)
	}

	return positions
}
