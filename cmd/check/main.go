// Command check prints the order a run would place right now, without placing
// it, and optionally the latest journaled order events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"okx-listing-bot/internal/app"
	"okx-listing-bot/internal/config"
	"okx-listing-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file with OKX credentials")
	history := flag.Int("history", 0, "also print this many recent journal events")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	application, err := app.New(cfg, log)
	if err != nil {
		fatal(err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	preview, err := application.Preview(ctx)
	printJSON("preview", preview)
	if err != nil {
		fatal(err)
	}

	if *history > 0 {
		events, err := application.History(ctx, *history)
		if err != nil {
			fatal(err)
		}
		printJSON("journal", events)
	}
}

func printJSON(label string, v any) {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s:\n%s\n", label, string(pretty))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
