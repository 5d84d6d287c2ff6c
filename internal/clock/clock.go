// Package clock keeps local time aligned with the exchange server clock.
package clock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/metrics"
	"okx-listing-bot/internal/retry"

	"go.uber.org/zap"
)

type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Clock reports exchange time as local time plus the last measured offset.
// The offset is swapped atomically on every sync, so concurrent readers never
// observe a partial update.
type Clock struct {
	source  TimeSource
	policy  *retry.Policy
	log     *zap.Logger
	metrics *metrics.Metrics

	offset   atomic.Int64
	lastSync atomic.Int64

	local func() time.Time
}

func New(source TimeSource, policy *retry.Policy, log *zap.Logger, m *metrics.Metrics) *Clock {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Clock{
		source:  source,
		policy:  policy,
		log:     log,
		metrics: m,
		local:   time.Now,
	}
}

// Now returns the current exchange time estimate.
func (c *Clock) Now() time.Time {
	return c.local().Add(c.Offset())
}

// Offset is exchange time minus local time at the last sync.
func (c *Clock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// LastSync returns the local time of the last successful sync, or the zero
// time if the clock was never synced.
func (c *Clock) LastSync() time.Time {
	ns := c.lastSync.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stale reports whether more than maxAge elapsed since the last sync.
func (c *Clock) Stale(maxAge time.Duration) bool {
	last := c.LastSync()
	if last.IsZero() {
		return true
	}
	return c.local().Sub(last) > maxAge
}

// Sync measures the offset against the exchange, retrying transient failures
// under the clock retry policy. The server timestamp is compared with the
// midpoint of the request round trip.
func (c *Clock) Sync(ctx context.Context) (time.Duration, error) {
	var offset, rtt time.Duration
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		sent := c.local()
		server, err := c.source.ServerTime(ctx)
		if err != nil {
			return err
		}
		received := c.local()
		rtt = received.Sub(sent)
		offset = server.Sub(sent.Add(rtt / 2))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %w", apperr.ErrClockSync, err)
	}
	c.offset.Store(int64(offset))
	c.lastSync.Store(c.local().UnixNano())
	c.metrics.ClockSyncs.Inc()
	c.metrics.ClockOffsetMS.Set(float64(offset) / float64(time.Millisecond))
	c.log.Info("clock synchronized", zap.Duration("offset", offset), zap.Duration("rtt", rtt))
	return offset, nil
}
