// Package retry implements the exponential backoff policy shared by instrument
// and price fetches, order submission, cancellation and clock sync.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/config"
	"okx-listing-bot/internal/metrics"

	"go.uber.org/zap"
)

// Policy is immutable after construction. Each call to Do starts a fresh
// attempt budget, so a Policy can be reused across operations.
type Policy struct {
	name        string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	classify    func(error) apperr.Class
	log         *zap.Logger
	retries     metrics.Counter

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a policy from config. MaxAttempts of zero retries forever.
func New(name string, cfg config.RetryPolicyConfig, log *zap.Logger, m *metrics.Metrics) *Policy {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Policy{
		name:        name,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		classify:    apperr.Classify,
		log:         log,
		retries:     m.Retries,
		sleep:       Sleep,
	}
}

// ExhaustedError is returned once every allowed attempt failed transiently.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts failed: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{apperr.ErrRetriesExhausted, e.Err}
}

// Delay returns the wait after the given zero-based failed attempt:
// base * 2^attempt, capped at the policy maximum.
func (p *Policy) Delay(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	d := p.baseDelay
	for i := 0; i < attempt; i++ {
		if p.maxDelay > 0 && d >= p.maxDelay {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if p.maxDelay > 0 && d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}

func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.classify(err) != apperr.Transient {
			return err
		}
		if p.maxAttempts > 0 && attempt+1 >= p.maxAttempts {
			return &ExhaustedError{Op: p.name, Attempts: attempt + 1, Err: err}
		}
		delay := p.Delay(attempt)
		p.retries.Inc()
		p.log.Warn("retrying after transient error",
			zap.String("op", p.name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
