package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/config"
	"okx-listing-bot/internal/retry"
)

type fakeSource struct {
	server   time.Time
	failures int
	calls    int
	advance  func()
}

func (f *fakeSource) ServerTime(ctx context.Context) (time.Time, error) {
	f.calls++
	if f.calls <= f.failures {
		return time.Time{}, apperr.ErrTransient
	}
	if f.advance != nil {
		f.advance()
	}
	return f.server, nil
}

type manualTime struct {
	now time.Time
}

func (m *manualTime) Now() time.Time { return m.now }

func testPolicy(attempts int) *retry.Policy {
	return retry.New("clock", config.RetryPolicyConfig{MaxAttempts: attempts, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond}, nil, nil)
}

func TestSyncUsesRoundTripMidpoint(t *testing.T) {
	local := &manualTime{now: time.Date(2025, 5, 29, 12, 0, 0, 0, time.UTC)}
	source := &fakeSource{server: local.now.Add(2*time.Second + 100*time.Millisecond)}
	// The request takes 200ms, so the server stamp corresponds to local+100ms.
	source.advance = func() { local.now = local.now.Add(200 * time.Millisecond) }
	c := New(source, testPolicy(3), nil, nil)
	c.local = local.Now

	offset, err := c.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if offset != 2*time.Second {
		t.Fatalf("expected offset 2s, got %v", offset)
	}
	if got := c.Now().Sub(local.now); got != 2*time.Second {
		t.Fatalf("expected Now to include offset, got %v", got)
	}
}

func TestSyncRetriesTransientFailures(t *testing.T) {
	source := &fakeSource{server: time.Now(), failures: 2}
	c := New(source, testPolicy(5), nil, nil)
	if _, err := c.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if source.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", source.calls)
	}
}

func TestSyncFailsWithClockSyncError(t *testing.T) {
	source := &fakeSource{failures: 100}
	c := New(source, testPolicy(3), nil, nil)
	_, err := c.Sync(context.Background())
	if !errors.Is(err, apperr.ErrClockSync) {
		t.Fatalf("expected ErrClockSync, got %v", err)
	}
	if source.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", source.calls)
	}
	if c.Offset() != 0 {
		t.Fatalf("failed sync must not change offset, got %v", c.Offset())
	}
}

func TestStale(t *testing.T) {
	local := &manualTime{now: time.Date(2025, 5, 29, 12, 0, 0, 0, time.UTC)}
	c := New(&fakeSource{server: local.now}, testPolicy(1), nil, nil)
	c.local = local.Now
	if !c.Stale(time.Minute) {
		t.Fatalf("unsynced clock must be stale")
	}
	if _, err := c.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if c.Stale(time.Minute) {
		t.Fatalf("fresh clock must not be stale")
	}
	local.now = local.now.Add(2 * time.Minute)
	if !c.Stale(time.Minute) {
		t.Fatalf("expected clock to be stale after 2m")
	}
}
