package strategy

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"

	"github.com/deepterminal/deepterminal/internal/indicator"
	"github.com/deepterminal/deepterminal/internal/types"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// SMACrossoverConfig configures the moving-average crossover strategy.
type SMACrossoverConfig struct {
	Symbol     string  `yaml:"symbol" json:"symbol" validate:"required"`
	FastPeriod int     `yaml:"fast_period" json:"fast_period" validate:"required,gt=0"`
	SlowPeriod int     `yaml:"slow_period" json:"slow_period" validate:"required,gtfield=FastPeriod"`
	StopPct    float64 `yaml:"stop_pct" json:"stop_pct" validate:"gt=0,lt=1"`
	TakePct    float64 `yaml:"take_pct" json:"take_pct" validate:"omitempty,gt=0,lt=1"`
}

// Validate checks the configuration.
func (c *SMACrossoverConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyConfigError, "invalid sma crossover config", err)
	}

	return nil
}

// SMACrossover goes long when the fast moving average crosses above the slow
// one and exits when it crosses back below.
type SMACrossover struct {
	config SMACrossoverConfig
	active bool
}

var _ Strategy = (*SMACrossover)(nil)

// NewSMACrossover creates an unconfigured crossover strategy.
func NewSMACrossover() *SMACrossover {
	return &SMACrossover{}
}

func (s *SMACrossover) Name() string {
	return "sma_crossover"
}

// Initialize parses and validates the YAML configuration.
func (s *SMACrossover) Initialize(config []byte) error {
	cfg := SMACrossoverConfig{
		FastPeriod: 10,
		SlowPeriod: 30,
		StopPct:    0.02,
	}

	if len(config) > 0 {
		if err := yaml.Unmarshal(config, &cfg); err != nil {
			return errors.Wrap(errors.ErrCodeStrategyConfigError, "failed to parse sma crossover config", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	s.config = cfg

	return nil
}

func (s *SMACrossover) Activate(ctx context.Context) error {
	s.active = true

	return nil
}

func (s *SMACrossover) Deactivate(ctx context.Context) error {
	s.active = false

	return nil
}

// OnBars emits an entry signal on an upward crossover and an exit signal on a
// downward one.
func (s *SMACrossover) OnBars(ctx context.Context, sctx Context, bars map[string][]types.Bar) ([]types.Signal, error) {
	if !s.active {
		return nil, errors.New(errors.ErrCodeStrategyNotActivated, "strategy is not activated")
	}

	history := bars[s.config.Symbol]
	if len(history) <= s.config.SlowPeriod {
		return nil, nil
	}

	fast := indicator.SMA(history, s.config.FastPeriod)
	slow := indicator.SMA(history, s.config.SlowPeriod)

	previous := history[:len(history)-1]
	prevFast := indicator.SMA(previous, s.config.FastPeriod)
	prevSlow := indicator.SMA(previous, s.config.SlowPeriod)

	last := history[len(history)-1]
	open := s.openPosition(sctx)

	var signals []types.Signal

	if fast > slow && prevFast <= prevSlow && open == nil {
		stop := last.Close * (1 - s.config.StopPct)
		signal := types.NewEntrySignal(s.config.Symbol, types.SignalDirectionLong, last.Close, stop, s.Name())

		if s.config.TakePct > 0 {
			take := last.Close * (1 + s.config.TakePct)
			signal.TakeProfit = optional.Some(take)
		}

		signals = append(signals, signal)
	}

	if fast < slow && prevFast >= prevSlow && open != nil {
		signals = append(signals, types.NewExitSignal(s.config.Symbol, open.ID, last.Close, s.Name()))
	}

	return signals, nil
}

func (s *SMACrossover) openPosition(sctx Context) *types.Position {
	for _, position := range sctx.OpenPositions() {
		if position.Symbol == s.config.Symbol && position.IsOpen() {
			copied := position

			return &copied
		}
	}

	return nil
}

