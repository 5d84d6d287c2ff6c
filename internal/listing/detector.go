// Package listing waits for a new spot pair to be listed and to start trading.
package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/market"
	"okx-listing-bot/internal/metrics"
	"okx-listing-bot/internal/retry"

	"go.uber.org/zap"
)

type Gateway interface {
	Instrument(ctx context.Context, instID string) (market.InstrumentRules, error)
	Ticker(ctx context.Context, instID string) (market.Snapshot, error)
}

type Clock interface {
	Now() time.Time
	Stale(maxAge time.Duration) bool
	Sync(ctx context.Context) (time.Duration, error)
}

type Config struct {
	InstID string
	// Launch is optional; when zero, polling starts immediately.
	Launch        time.Time
	PreLaunch     time.Duration
	PairInterval  time.Duration
	PriceInterval time.Duration
	ResyncAfter   time.Duration
}

type Detector struct {
	cfg     Config
	gateway Gateway
	clock   Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	sm      *StateMachine
	// rules from the poll that saw the pair listed.
	rules  market.InstrumentRules
	listed bool

	sleep func(ctx context.Context, d time.Duration) error
}

func NewDetector(cfg Config, gateway Gateway, clock Clock, log *zap.Logger, m *metrics.Metrics) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Detector{
		cfg:     cfg,
		gateway: gateway,
		clock:   clock,
		log:     log.With(zap.String("inst_id", cfg.InstID)),
		metrics: m,
		sm:      NewStateMachine(),
		sleep:   retry.Sleep,
	}
}

func (d *Detector) State() State {
	return d.sm.State()
}

func (d *Detector) History() []State {
	return d.sm.History()
}

// ListedRules returns the instrument rules fetched when the pair was first
// seen, so callers need not fetch them again once trading starts.
func (d *Detector) ListedRules() (market.InstrumentRules, bool) {
	return d.rules, d.listed
}

// Run blocks until trading has started and returns the snapshot that proved
// it. Cancelling ctx moves the detector to ABORTED; no exchange side effects
// have happened at that point.
func (d *Detector) Run(ctx context.Context) (market.Snapshot, error) {
	snap, err := d.run(ctx)
	if err != nil {
		from := d.sm.State()
		d.sm.Apply(EventAbort)
		d.log.Warn("listing detection aborted", zap.String("state", string(from)), zap.Error(err))
		return market.Snapshot{}, fmt.Errorf("listing detection aborted in %s: %w", from, err)
	}
	return snap, nil
}

func (d *Detector) run(ctx context.Context) (market.Snapshot, error) {
	if err := d.waitForWindow(ctx); err != nil {
		return market.Snapshot{}, err
	}
	d.transition(EventWindowOpen)
	if err := d.pollForPair(ctx); err != nil {
		return market.Snapshot{}, err
	}
	d.transition(EventPairListed)
	snap, err := d.pollForTrading(ctx)
	if err != nil {
		return market.Snapshot{}, err
	}
	d.transition(EventTradingStarted)
	return snap, nil
}

func (d *Detector) transition(event Event) {
	state := d.sm.Apply(event)
	d.log.Info("listing state changed", zap.String("event", string(event)), zap.String("state", string(state)))
}

func (d *Detector) waitForWindow(ctx context.Context) error {
	if d.cfg.Launch.IsZero() {
		return ctx.Err()
	}
	target := d.cfg.Launch.Add(-d.cfg.PreLaunch)
	logged := false
	for {
		remaining := target.Sub(d.clock.Now())
		if remaining <= 0 {
			return ctx.Err()
		}
		if !logged {
			d.log.Info("waiting for pre-launch window",
				zap.Time("launch", d.cfg.Launch),
				zap.Time("window_opens", target),
				zap.Duration("remaining", remaining),
			)
			logged = true
		}
		wait := remaining
		if d.cfg.ResyncAfter > 0 && wait > d.cfg.ResyncAfter {
			wait = d.cfg.ResyncAfter
		}
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
		if d.cfg.ResyncAfter > 0 && d.clock.Stale(d.cfg.ResyncAfter) && target.Sub(d.clock.Now()) > 0 {
			if _, err := d.clock.Sync(ctx); err != nil {
				return err
			}
		}
	}
}

func (d *Detector) pollForPair(ctx context.Context) error {
	d.log.Info("waiting for pair to be listed", zap.Duration("interval", d.cfg.PairInterval))
	for {
		d.metrics.PairPolls.Inc()
		rules, err := d.gateway.Instrument(ctx, d.cfg.InstID)
		if err == nil {
			d.log.Info("pair is listed", zap.String("state", rules.State))
			d.rules, d.listed = rules, true
			return nil
		}
		if err := d.tolerate(ctx, err, "pair check"); err != nil {
			return err
		}
		if err := d.sleep(ctx, d.cfg.PairInterval); err != nil {
			return err
		}
	}
}

func (d *Detector) pollForTrading(ctx context.Context) (market.Snapshot, error) {
	d.log.Info("waiting for trading to start", zap.Duration("interval", d.cfg.PriceInterval))
	for {
		d.metrics.TickerPolls.Inc()
		snap, err := d.gateway.Ticker(ctx, d.cfg.InstID)
		if err == nil {
			if snap.Trading() {
				d.log.Info("trading started", zap.String("last", snap.Last.String()), zap.Time("observed_at", snap.ObservedAt))
				return snap, nil
			}
			d.log.Debug("trading not started yet", zap.String("last", snap.Last.String()))
		} else if err := d.tolerate(ctx, err, "ticker check"); err != nil {
			return market.Snapshot{}, err
		}
		if err := d.sleep(ctx, d.cfg.PriceInterval); err != nil {
			return market.Snapshot{}, err
		}
	}
}

// tolerate swallows the errors polling is expected to see before a listing:
// the pair being absent and transient fetch failures. Anything else ends the
// run.
func (d *Detector) tolerate(ctx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, apperr.ErrPairNotFound) {
		d.log.Debug(what+": pair not available yet")
		return nil
	}
	if apperr.IsTransient(err) {
		d.log.Debug(what+" failed, retrying on next tick", zap.Error(err))
		return nil
	}
	return err
}
