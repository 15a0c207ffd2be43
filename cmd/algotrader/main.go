package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"algotrader/internal/cli"
	"algotrader/internal/config"
	"algotrader/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
		cfg = config.Default()
	}
	logger := logging.NewLoggerWithConfig(cli.LogConfig(cfg, config.DefaultConfigDir(), false))

	if err := cli.NewRootCmd(cfg, logger).ExecuteContext(ctx); err != nil {
		logger.Debug().Err(err).Msg("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
