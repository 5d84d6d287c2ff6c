package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"okx-listing-bot/internal/app"
	"okx-listing-bot/internal/config"
	"okx-listing-bot/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file with OKX credentials")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded",
		zap.String("path", *configPath),
		zap.String("pair", cfg.Order.Pair),
		zap.String("tokens_to_sell", cfg.Order.Quantity.String()),
		zap.String("offset_pct", cfg.Order.Offset.String()),
		zap.Time("launch", cfg.Schedule.Launch),
		zap.Bool("simulated", cfg.REST.Simulated),
	)

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := application.Run(ctx)
	fmt.Println(report.String())
	if !report.Success() && !errors.Is(err, context.Canceled) {
		_ = application.Close()
		_ = log.Sync()
		os.Exit(1)
	}
}
