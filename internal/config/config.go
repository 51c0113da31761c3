// Package config loads and validates the terminal's YAML configuration.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/deepterminal/deepterminal/internal/backtest"
	"github.com/deepterminal/deepterminal/internal/execution"
	"github.com/deepterminal/deepterminal/internal/metrics"
	"github.com/deepterminal/deepterminal/internal/risk"
	"github.com/deepterminal/deepterminal/pkg/errors"
)

// TrackerConfig controls the position tracker and order manager poll loops.
type TrackerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" validate:"gt=0"`
}

// FeedConfig points the tick stream at a quote server.
type FeedConfig struct {
	URL     string   `yaml:"url" json:"url" validate:"omitempty,url"`
	Symbols []string `yaml:"symbols" json:"symbols"`
}

// PaperConfig configures the built-in exchange simulator.
type PaperConfig struct {
	StartingBalance float64 `yaml:"starting_balance" json:"starting_balance" validate:"gt=0"`
}

// StrategyConfig selects a registered strategy and carries its raw settings.
type StrategyConfig struct {
	Name string `yaml:"name" json:"name" validate:"required"`
	// Params is handed to the strategy's Initialize untouched.
	Params yaml.Node `yaml:"params" json:"-"`
}

// RawParams re-encodes the strategy params block as YAML bytes.
func (c *StrategyConfig) RawParams() ([]byte, error) {
	if c.Params.IsZero() {
		return nil, nil
	}

	raw, err := yaml.Marshal(&c.Params)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to encode strategy params", err)
	}

	return raw, nil
}

// Config is the terminal's full configuration.
type Config struct {
	Risk      risk.Config          `yaml:"risk" json:"risk"`
	Execution execution.Config     `yaml:"execution" json:"execution"`
	Tracker   TrackerConfig        `yaml:"tracker" json:"tracker"`
	Backtest  backtest.Config      `yaml:"backtest" json:"backtest"`
	Feed      FeedConfig           `yaml:"feed" json:"feed"`
	Metrics   metrics.ServerConfig `yaml:"metrics" json:"metrics"`
	Paper     PaperConfig          `yaml:"paper" json:"paper"`
	Strategy  StrategyConfig       `yaml:"strategy" json:"strategy"`
	// HistoryDBPath is the DuckDB file for order/fill/trade history. Empty
	// runs in memory.
	HistoryDBPath string `yaml:"history_db_path" json:"history_db_path"`
}

// Default returns a config with every section at its defaults.
func Default() Config {
	return Config{
		Risk:      risk.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		Tracker:   TrackerConfig{PollInterval: time.Second},
		Backtest:  backtest.DefaultConfig(),
		Metrics:   metrics.DefaultServerConfig(),
		Paper:     PaperConfig{StartingBalance: 100000},
		Strategy:  StrategyConfig{Name: "sma_crossover"},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	config := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %s", path)
	}

	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config %s", path)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return err
	}

	if err := c.Execution.Validate(); err != nil {
		return err
	}

	if err := c.Backtest.Validate(); err != nil {
		return err
	}

	if err := validator.New().Struct(c.Tracker); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid tracker config", err)
	}

	if err := validator.New().Struct(c.Feed); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid feed config", err)
	}

	if err := validator.New().Struct(c.Paper); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid paper config", err)
	}

	if err := validator.New().Struct(c.Strategy); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid strategy config", err)
	}

	return nil
}
