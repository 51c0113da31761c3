package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deepterminal/deepterminal/internal/config"
	"github.com/deepterminal/deepterminal/internal/exchange/paper"
	"github.com/deepterminal/deepterminal/internal/execution"
	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/metrics"
	"github.com/deepterminal/deepterminal/internal/risk"
	"github.com/deepterminal/deepterminal/internal/strategy"
	"github.com/deepterminal/deepterminal/internal/tracker"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/marketdata"
)

// liveBarInterval is the cadence at which streamed ticks are rolled into bars
// and handed to the strategy.
const liveBarInterval = time.Minute

func loadConfig(cmd *cli.Command) (config.Config, error) {
	if path := cmd.String("config"); path != "" {
		return config.Load(path)
	}

	return config.Default(), nil
}

func newRegistry() *strategy.Registry {
	registry := strategy.NewRegistry()
	registry.Register("sma_crossover", func() strategy.Strategy {
		return strategy.NewSMACrossover()
	}, strategy.SMACrossoverConfig{})

	return registry
}

func tradeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	params, err := cfg.Strategy.RawParams()
	if err != nil {
		return err
	}

	strat, err := newRegistry().Create(cfg.Strategy.Name, params)
	if err != nil {
		return err
	}

	if err := strat.Activate(ctx); err != nil {
		return err
	}

	ex := paper.NewExchange(cfg.Paper.StartingBalance, log)

	store, err := execution.NewHistoryStore(cfg.HistoryDBPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	calculator, err := risk.NewCalculator(cfg.Risk, log)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()

	engine, err := execution.NewEngine(cfg.Execution, ex, calculator, store, recorder, log)
	if err != nil {
		return err
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	positions := tracker.NewPositionTracker(ex, cfg.Tracker.PollInterval, log)
	if err := positions.Start(ctx); err != nil {
		return err
	}
	defer positions.Stop()

	orders := tracker.NewOrderManager(ex, cfg.Tracker.PollInterval, log)
	if err := orders.Start(ctx); err != nil {
		return err
	}
	defer orders.Stop()

	server := metrics.NewServer(cfg.Metrics, log)
	server.RegisterHealthCheck("exchange", func() metrics.Check {
		if ex.IsConnected() {
			return metrics.Check{Status: "ok"}
		}

		return metrics.Check{Status: "down", Message: "exchange disconnected"}
	})
	server.RegisterHealthCheck("engine", func() metrics.Check {
		if engine.IsRunning() {
			return metrics.Check{Status: "ok"}
		}

		return metrics.Check{Status: "down", Message: "engine stopped"}
	})

	aggregator := newBarAggregator()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Run(ctx)
	})

	if cfg.Feed.URL != "" {
		stream := marketdata.NewTickStream(cfg.Feed.URL, cfg.Feed.Symbols, func(tick types.Tick) {
			ex.SetPrice(tick.Symbol, tick.Price())
			positions.OnTick(tick)
			aggregator.observe(tick)
		}, log)
		stream.OnConnectionChange(recorder.RecordFeedConnected)

		group.Go(func() error {
			defer stream.Close()

			return stream.Run(ctx)
		})
	} else {
		log.Warn("no feed configured; nothing will drive prices")
	}

	group.Go(func() error {
		return runStrategyLoop(ctx, strat, engine, ex, positions, aggregator, recorder, log)
	})

	log.Info("trading started",
		zap.String("strategy", strat.Name()),
		zap.Float64("starting_balance", cfg.Paper.StartingBalance))

	err = group.Wait()

	if deactivateErr := strat.Deactivate(context.Background()); deactivateErr != nil {
		log.Warn("strategy deactivate failed", zap.Error(deactivateErr))
	}

	if err != nil && err != context.Canceled {
		return err
	}

	stats := engine.Statistics()
	fmt.Printf("signals=%d orders_placed=%d orders_filled=%d realized_pnl=%.2f\n",
		stats.SignalsProcessed, stats.OrdersPlaced, stats.OrdersFilled, stats.RealizedPnL)

	return nil
}

// liveContext exposes the live account to the strategy.
type liveContext struct {
	exchange  *paper.Exchange
	positions *tracker.PositionTracker
}

func (c *liveContext) AccountBalance() float64 {
	info, err := c.exchange.AccountInfo(context.Background())
	if err != nil {
		return 0
	}

	return info.Balance
}

func (c *liveContext) OpenPositions() []types.Position {
	return c.positions.Snapshot()
}

// runStrategyLoop rolls completed bars into the strategy on a fixed cadence
// and routes the resulting signals into the execution engine.
func runStrategyLoop(ctx context.Context, strat strategy.Strategy, engine *execution.Engine,
	ex *paper.Exchange, positions *tracker.PositionTracker, aggregator *barAggregator,
	recorder *metrics.Recorder, log *logger.Logger,
) error {
	sctx := &liveContext{exchange: ex, positions: positions}
	history := make(map[string][]types.Bar)

	ticker := time.NewTicker(liveBarInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case at := <-ticker.C:
			for _, bar := range aggregator.flush(at) {
				history[bar.Symbol] = append(history[bar.Symbol], bar)
			}

			if len(history) == 0 {
				continue
			}

			signals, err := strat.OnBars(ctx, sctx, history)
			if err != nil {
				log.Error("strategy error", zap.Error(err))

				continue
			}

			// The engine records per-signal metrics itself.
			for i := range signals {
				engine.ProcessSignal(ctx, &signals[i])
			}

			info, err := ex.AccountInfo(ctx)
			if err == nil {
				recorder.RecordEquity(info.Equity)
			}
		}
	}
}

// barAggregator rolls streamed ticks into OHLCV bars per symbol.
type barAggregator struct {
	mu   sync.Mutex
	open map[string]*types.Bar
}

func newBarAggregator() *barAggregator {
	return &barAggregator{open: make(map[string]*types.Bar)}
}

// observe folds a tick into the symbol's forming bar.
func (a *barAggregator) observe(tick types.Tick) {
	price := tick.Price()
	if price <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bar, ok := a.open[tick.Symbol]
	if !ok {
		a.open[tick.Symbol] = &types.Bar{
			Symbol: tick.Symbol,
			Time:   tick.Time,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: tick.Size,
		}

		return
	}

	if price > bar.High {
		bar.High = price
	}

	if price < bar.Low {
		bar.Low = price
	}

	bar.Close = price
	bar.Volume += tick.Size
}

// flush returns the completed bars stamped at the given time and resets the
// aggregator.
func (a *barAggregator) flush(at time.Time) []types.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	bars := make([]types.Bar, 0, len(a.open))

	for _, bar := range a.open {
		completed := *bar
		completed.Time = at
		bars = append(bars, completed)
	}

	a.open = make(map[string]*types.Bar)

	return bars
}
