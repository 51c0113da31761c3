// Package backtest replays historical bars through a strategy with an
// in-memory position ledger, producing an equity curve, trade list, and
// performance metrics. The replay is single-threaded and deterministic: the
// same bars and config always produce the same result.
package backtest

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/risk"
	"github.com/deepterminal/deepterminal/internal/strategy"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// Config controls a replay.
type Config struct {
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance" validate:"required,gt=0"`
	// RiskPct sizes entries without an explicit quantity.
	RiskPct float64 `yaml:"risk_pct" json:"risk_pct" validate:"gt=0,lte=1"`
	// ShowProgress renders a terminal progress bar during the replay.
	ShowProgress bool `yaml:"show_progress" json:"show_progress"`
}

// DefaultConfig returns a replay config with a 100k balance and 1% risk.
func DefaultConfig() Config {
	return Config{
		InitialBalance: 100000,
		RiskPct:        0.01,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "invalid backtest config", err)
	}

	return nil
}

// Engine runs strategies over historical bars.
type Engine struct {
	config     Config
	calculator *risk.Calculator
	logger     *logger.Logger
}

// NewEngine creates a backtest engine. The risk calculator sizes entry
// signals that do not carry an explicit quantity.
func NewEngine(config Config, calculator *risk.Calculator, log *logger.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Engine{
		config:     config,
		calculator: calculator,
		logger:     log.Named("backtest"),
	}, nil
}

// simContext adapts the ledger to the strategy's account view.
type simContext struct {
	book    *book
	balance float64
}

var _ strategy.Context = (*simContext)(nil)

func (c *simContext) AccountBalance() float64 {
	return c.balance + c.book.realizedPnL()
}

func (c *simContext) OpenPositions() []types.Position {
	return c.book.positions()
}

// Run replays the bars through the strategy. Bars must be ascending by time;
// multi-symbol series interleave naturally as long as the ordering holds.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, bars []types.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, errors.New(errors.ErrCodeBacktestNoData, "no bars to replay")
	}

	if err := strat.Activate(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeBacktestRunFailed, "failed to activate strategy", err)
	}

	defer func() {
		if err := strat.Deactivate(ctx); err != nil {
			e.logger.Warn("strategy deactivate failed", zap.Error(err))
		}
	}()

	e.logger.Info("replay started",
		zap.String("strategy", strat.Name()),
		zap.Int("bars", len(bars)),
		zap.Float64("initial_balance", e.config.InitialBalance))

	var bar *progressbar.ProgressBar
	if e.config.ShowProgress {
		bar = progressbar.Default(int64(len(bars)), "replaying")
	}

	ledger := newBook()
	sctx := &simContext{book: ledger, balance: e.config.InitialBalance}
	history := make(map[string][]types.Bar)
	curve := make([]EquityPoint, 0, len(bars))

	var dailyReturns []float64

	lastDay := bars[0].Time.Truncate(24 * time.Hour)
	dayOpenEquity := e.config.InitialBalance

	for _, current := range bars {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBacktestRunFailed, "replay cancelled", err)
		}

		ledger.mark(current.Symbol, current.Close)
		history[current.Symbol] = append(history[current.Symbol], current)

		signals, err := strat.OnBars(ctx, sctx, history)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeBacktestRunFailed, err,
				"strategy failed on bar %s", current.Time.Format(time.RFC3339))
		}

		for i := range signals {
			e.executeSignal(&signals[i], ledger, sctx, current)
		}

		equity := e.config.InitialBalance + ledger.realizedPnL() + ledger.unrealizedPnL()
		curve = append(curve, EquityPoint{Time: current.Time, Equity: equity})

		// Day boundary closes out a daily return sample.
		day := current.Time.Truncate(24 * time.Hour)
		if !day.Equal(lastDay) {
			if dayOpenEquity > 0 {
				dailyReturns = append(dailyReturns, (equity-dayOpenEquity)/dayOpenEquity)
			}

			lastDay = day
			dayOpenEquity = equity
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	metrics := computeMetrics(curve, dailyReturns, ledger.trades, e.config.InitialBalance)

	result := &Result{
		Strategy:       strat.Name(),
		StartDate:      bars[0].Time,
		EndDate:        bars[len(bars)-1].Time,
		InitialBalance: e.config.InitialBalance,
		FinalEquity:    curve[len(curve)-1].Equity,
		Metrics:        metrics,
		Trades:         ledger.trades,
		EquityCurve:    curve,
	}

	e.logger.Info("replay finished",
		zap.Float64("final_equity", result.FinalEquity),
		zap.Float64("total_return_pct", metrics.TotalReturnPct),
		zap.Int("trades", metrics.TotalTrades))

	return result, nil
}

// executeSignal fills a signal against the ledger at the current bar close.
func (e *Engine) executeSignal(signal *types.Signal, ledger *book, sctx *simContext, current types.Bar) {
	if !signal.IsActive(current.Time) {
		return
	}

	switch signal.Type {
	case types.SignalTypeEntry:
		e.executeEntry(signal, ledger, sctx, current)
	case types.SignalTypeExit:
		e.executeExit(signal, ledger, current)
	case types.SignalTypeAlert:
		e.logger.Info("alert signal",
			zap.String("symbol", signal.Symbol),
			zap.String("reason", signal.Reason))
	}
}

func (e *Engine) executeEntry(signal *types.Signal, ledger *book, sctx *simContext, current types.Bar) {
	quantity := 0.0

	if signal.Quantity.IsSome() {
		quantity = signal.Quantity.Unwrap()
	} else if e.calculator != nil && signal.EntryPrice.IsSome() && signal.StopLoss.IsSome() {
		sized := e.calculator.PositionSize(risk.SizeRequest{
			Balance:    sctx.AccountBalance(),
			EntryPrice: signal.EntryPrice.Unwrap(),
			StopLoss:   signal.StopLoss.Unwrap(),
			RiskPct:    e.config.RiskPct,
			RiskReward: signal.RiskReward().TakeOr(0),
		})
		quantity = sized.Quantity
	}

	if quantity <= 0 {
		signal.Invalidate("no quantity and no stop to size from")

		return
	}

	side := types.OrderSideBuy
	if signal.Direction == types.SignalDirectionShort {
		side = types.OrderSideSell
	}

	ledger.fill(signal.Symbol, side, quantity, current.Close, current.Time, signal.StrategyName)
	_ = signal.Execute(nil, signal.Symbol)
}

func (e *Engine) executeExit(signal *types.Signal, ledger *book, current types.Bar) {
	position, ok := ledger.position(signal.Symbol)
	if !ok {
		e.logger.Warn("exit signal with no open position", zap.String("symbol", signal.Symbol))

		return
	}

	side := types.OrderSideSell
	if position.Side == types.PositionSideShort {
		side = types.OrderSideBuy
	}

	ledger.fill(signal.Symbol, side, position.Quantity, current.Close, current.Time, signal.StrategyName)
	_ = signal.Execute(nil, position.ID)
}
