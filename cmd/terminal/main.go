// Command terminal runs the trading terminal: live paper trading against the
// built-in simulator, or an offline backtest over a CSV bar file.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "terminal",
		Usage: "Algorithmic trading terminal",
		Commands: []*cli.Command{
			{
				Name:  "trade",
				Usage: "Run live trading against the paper exchange",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the YAML configuration file",
					},
				},
				Action: tradeAction,
			},
			{
				Name:  "backtest",
				Usage: "Replay a strategy over a CSV bar file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Path to the OHLCV CSV file",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "symbol",
						Aliases:  []string{"s"},
						Usage:    "Symbol the CSV file describes",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the YAML configuration file",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path for the JSON result document",
						Value:   "backtest_result.json",
					},
					&cli.StringFlag{
						Name:  "equity-csv",
						Usage: "Optional path for an equity curve CSV export",
					},
				},
				Action: backtestAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
