package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/deepterminal/deepterminal/internal/backtest"
	"github.com/deepterminal/deepterminal/internal/logger"
	"github.com/deepterminal/deepterminal/internal/risk"
)

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	symbol := cmd.String("symbol")

	bars, err := backtest.LoadCSV(cmd.String("data"), symbol)
	if err != nil {
		return err
	}

	params, err := cfg.Strategy.RawParams()
	if err != nil {
		return err
	}

	strat, err := newRegistry().Create(cfg.Strategy.Name, params)
	if err != nil {
		return err
	}

	calculator, err := risk.NewCalculator(cfg.Risk, log)
	if err != nil {
		return err
	}

	backtestConfig := cfg.Backtest
	backtestConfig.ShowProgress = true

	engine, err := backtest.NewEngine(backtestConfig, calculator, log)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, strat, bars)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if err := result.WriteJSON(output); err != nil {
		return err
	}

	if equityPath := cmd.String("equity-csv"); equityPath != "" {
		if err := result.WriteEquityCSV(equityPath); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Print(result.Summary())
	fmt.Printf("\nResult written to %s\n", output)

	return nil
}
