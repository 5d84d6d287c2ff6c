package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"okx-listing-bot/internal/alerts"
	"okx-listing-bot/internal/clock"
	"okx-listing-bot/internal/config"
	"okx-listing-bot/internal/exec"
	"okx-listing-bot/internal/listing"
	"okx-listing-bot/internal/market"
	"okx-listing-bot/internal/metrics"
	"okx-listing-bot/internal/okx"
	"okx-listing-bot/internal/pricing"
	"okx-listing-bot/internal/retry"
	"okx-listing-bot/internal/state/sqlite"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// App runs one listing: wait for the pair to trade, sell into it once, and
// report how that order ended.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	client   *okx.Client
	clock    *clock.Clock
	resolver *market.Resolver
	detector *listing.Detector
	calc     pricing.Calculator
	executor *exec.Executor
	balance  *retry.Policy
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	alerts   *alerts.Telegram
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	client := okx.New(cfg.REST, cfg.Credentials, log)
	clk := clock.New(client, retry.New("clock_sync", cfg.Retry.Clock, log, m), log, m)
	client.SetClock(clk)

	resolver := market.NewResolver(client, retry.New("instrument", cfg.Retry.Fetch, log, m), log)
	detector := listing.NewDetector(listing.Config{
		InstID:        cfg.Order.Pair,
		Launch:        cfg.Schedule.Launch,
		PreLaunch:     cfg.Schedule.PreLaunchWindow,
		PairInterval:  cfg.Schedule.PairCheckInterval,
		PriceInterval: cfg.Schedule.PriceCheckInterval,
		ResyncAfter:   cfg.Schedule.ResyncAfter,
	}, client, clk, log, m)

	notifier := alerts.NewTelegram(cfg.Telegram, cfg.Order.Pair, log)
	executor := exec.New(
		exec.Config{StatusInterval: cfg.Order.StatusInterval, Timeout: cfg.Order.Timeout},
		exchangeAdapter{client: client},
		exec.Policies{
			Submit: retry.New("submit_order", cfg.Retry.Submit, log, m),
			Cancel: retry.New("cancel_order", cfg.Retry.Cancel, log, m),
		},
		store, notifier, log, m,
	)

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		client:   client,
		clock:    clk,
		resolver: resolver,
		detector: detector,
		calc:     pricing.Calculator{TimeInForce: exec.TimeInForce(cfg.Order.TimeInForce)},
		executor: executor,
		balance:  retry.New("balance", cfg.Retry.Fetch, log, m),
		metrics:  m,
		prom:     prom,
		alerts:   notifier,
	}, nil
}

// Run executes the whole flow once. The returned Report is complete even when
// err is non-nil.
func (a *App) Run(ctx context.Context) (Report, error) {
	if a.prom != nil {
		metricsCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := a.prom.Serve(metricsCtx, a.cfg.Metrics.Address, a.cfg.Metrics.Path, a.log); err != nil {
				a.log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	report := Report{InstID: a.cfg.Order.Pair, StartedAt: time.Now().UTC()}
	err := a.run(ctx, &report)
	report.finalize(err)
	a.publish(ctx, report)
	return report, err
}

func (a *App) run(ctx context.Context, report *Report) error {
	report.Stage = StageClock
	if _, err := a.clock.Sync(ctx); err != nil {
		return err
	}

	report.Stage = StageDetect
	snap, err := a.detector.Run(ctx)
	report.Detector = string(a.detector.State())
	if err != nil {
		return err
	}
	report.LastPrice = snap.Last

	report.Stage = StageRules
	if listed, ok := a.detector.ListedRules(); ok {
		if err := a.resolver.Seed(a.cfg.Order.Pair, listed); err != nil {
			a.log.Warn("listed instrument rules unusable, refetching", zap.Error(err))
		}
	}
	rules, err := a.resolver.Resolve(ctx, a.cfg.Order.Pair)
	if err != nil {
		return err
	}

	report.Stage = StagePrice
	desired, err := a.desiredQuantity(ctx, rules)
	if err != nil {
		return err
	}
	order, err := a.calc.Compute(snap, a.cfg.Order.Offset, rules, desired)
	if err != nil {
		return err
	}
	report.Order = &order
	a.log.Info("order intent",
		zap.String("inst_id", order.InstID),
		zap.String("last", snap.Last.String()),
		zap.String("offset_pct", a.cfg.Order.Offset.String()),
		zap.String("px", order.LimitPrice.String()),
		zap.String("sz", order.Quantity.String()),
	)

	report.Stage = StageExecute
	h, err := a.executor.Execute(ctx, order)
	report.Handle = h
	return err
}

func (a *App) Close() error {
	return a.store.Close()
}

// desiredQuantity applies order.cap_to_balance. The cap only ever lowers the
// configured amount.
func (a *App) desiredQuantity(ctx context.Context, rules market.InstrumentRules) (decimal.Decimal, error) {
	desired := a.cfg.Order.Quantity
	if !a.cfg.Order.CapToBalance {
		return desired, nil
	}
	var available decimal.Decimal
	err := a.balance.Do(ctx, func(ctx context.Context) error {
		var err error
		available, err = a.client.AvailableBalance(ctx, rules.BaseCcy)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("available balance %s: %w", rules.BaseCcy, err)
	}
	if available.LessThan(desired) {
		a.log.Warn("capping quantity to available balance",
			zap.String("ccy", rules.BaseCcy),
			zap.String("configured", desired.String()),
			zap.String("available", available.String()),
		)
		return available, nil
	}
	return desired, nil
}
