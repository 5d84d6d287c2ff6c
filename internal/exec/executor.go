package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/metrics"
	"okx-listing-bot/internal/retry"
	"okx-listing-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderInFlight = errors.New("an order is already in flight")
)

const interruptCancelTimeout = 5 * time.Second

// Exchange is the order half of the gateway. CancelOrder must return nil when
// the order is already closed; OrderStatus returns ErrOrderNotFound when the
// exchange has no record of the id.
type Exchange interface {
	PlaceOrder(ctx context.Context, order Order, clientOrderID string) (string, error)
	CancelOrder(ctx context.Context, instID, orderID string) error
	OrderStatus(ctx context.Context, instID, orderID, clientOrderID string) (Status, error)
}

type Notifier interface {
	Send(ctx context.Context, message string) error
}

type Config struct {
	StatusInterval time.Duration
	Timeout        time.Duration
}

type Policies struct {
	Submit *retry.Policy
	Cancel *retry.Policy
}

type Executor struct {
	exchange Exchange
	policies Policies
	journal  state.Journal
	notifier Notifier
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	live *Handle

	newClientID func() string
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, exchange Exchange, policies Policies, journal state.Journal, notifier Notifier, log *zap.Logger, m *metrics.Metrics) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if journal == nil {
		journal = state.Discard
	}
	return &Executor{
		exchange:    exchange,
		policies:    policies,
		journal:     journal,
		notifier:    notifier,
		cfg:         cfg,
		log:         log,
		metrics:     m,
		newClientID: NewClientOrderID,
		now:         time.Now,
		sleep:       retry.Sleep,
	}
}

// NewClientOrderID returns a 32 character alphanumeric id, the longest the
// exchange accepts.
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Execute submits the order and supervises it to a terminal state.
func (e *Executor) Execute(ctx context.Context, order Order) (*Handle, error) {
	h, err := e.Submit(ctx, order)
	if err != nil {
		return h, err
	}
	return h, e.Monitor(ctx, h)
}

// Submit places the order under the submit retry policy. Every attempt reuses
// one client order id, and each retry first looks that id up so an order whose
// acknowledgement was lost is adopted rather than placed twice.
func (e *Executor) Submit(ctx context.Context, order Order) (*Handle, error) {
	e.mu.Lock()
	if e.live != nil && !e.live.State.Terminal() {
		id := e.live.ClientOrderID
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrOrderInFlight, id)
	}
	h := &Handle{InstID: order.InstID, ClientOrderID: e.newClientID()}
	e.live = h
	e.mu.Unlock()

	log := e.log.With(zap.String("inst_id", order.InstID), zap.String("cl_ord_id", h.ClientOrderID))
	log.Info("submitting order",
		zap.String("side", string(order.Side)),
		zap.String("px", order.LimitPrice.String()),
		zap.String("sz", order.Quantity.String()),
		zap.String("tif", string(order.TimeInForce)),
	)
	e.record(ctx, h, "SUBMITTING", order.Quantity.String()+"@"+order.LimitPrice.String())

	attempts := 0
	err := e.policies.Submit.Do(ctx, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			if adopted, err := e.adopt(ctx, h); err != nil || adopted {
				return err
			}
		}
		orderID, err := e.exchange.PlaceOrder(ctx, order, h.ClientOrderID)
		if err != nil {
			return err
		}
		if orderID == "" {
			return fmt.Errorf("%w: empty order id in acknowledgement", apperr.ErrTransient)
		}
		h.OrderID = orderID
		return nil
	})
	if err != nil && ctx.Err() != nil {
		if attempts > 0 {
			e.abandon(ctx, h)
		}
		return h, fmt.Errorf("submit order: %w", ctx.Err())
	}
	if err != nil && !definitelyNotPlaced(err) {
		// The last attempt may have reached the exchange.
		if adopted, lookErr := e.adopt(ctx, h); lookErr == nil && adopted {
			err = nil
		}
	}
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		e.setState(h, StateRejected)
		log.Error("order submission failed", zap.Int("attempts", attempts), zap.Error(err))
		e.record(ctx, h, string(StateRejected), err.Error())
		return h, fmt.Errorf("submit order: %w", err)
	}

	e.mu.Lock()
	h.SubmittedAt = e.now()
	if h.State == "" {
		h.State = StateSubmitted
	}
	e.mu.Unlock()
	e.metrics.OrdersPlaced.Inc()
	log.Info("order submitted", zap.String("ord_id", h.OrderID), zap.Int("attempts", attempts))
	e.record(ctx, h, string(h.State), "")
	return h, nil
}

func definitelyNotPlaced(err error) bool {
	return errors.Is(err, apperr.ErrOrderRejected) || errors.Is(err, apperr.ErrAuth)
}

// adopt looks the handle's client order id up on the exchange.
func (e *Executor) adopt(ctx context.Context, h *Handle) (bool, error) {
	st, err := e.exchange.OrderStatus(ctx, h.InstID, "", h.ClientOrderID)
	if errors.Is(err, ErrOrderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	h.apply(st)
	e.mu.Unlock()
	e.log.Warn("adopted order after lost acknowledgement",
		zap.String("cl_ord_id", h.ClientOrderID),
		zap.String("ord_id", h.OrderID),
		zap.String("state", string(h.State)),
	)
	return true, nil
}

// Monitor polls the order until it fills, is cancelled by the exchange, or the
// timeout measured from submission elapses, in which case it is cancelled.
func (e *Executor) Monitor(ctx context.Context, h *Handle) error {
	deadline := h.SubmittedAt.Add(e.cfg.Timeout)
	for {
		st, err := e.exchange.OrderStatus(ctx, h.InstID, h.OrderID, "")
		switch {
		case err == nil:
			e.observe(ctx, h, st)
		case ctx.Err() != nil:
			return e.interrupted(ctx, h)
		case errors.Is(err, ErrOrderNotFound), apperr.IsTransient(err):
			e.log.Debug("order status unavailable", zap.String("ord_id", h.OrderID), zap.Error(err))
		default:
			e.bestEffortCancel(ctx, h, "status polling failed")
			return fmt.Errorf("order status: %w", err)
		}

		switch h.State {
		case StateFilled:
			e.metrics.OrdersFilled.Inc()
			e.log.Info("order filled", zap.String("ord_id", h.OrderID), zap.String("avg_px", h.AvgPrice.String()))
			return nil
		case StateCancelled:
			e.metrics.OrdersCancelled.Inc()
			e.log.Warn("order cancelled by exchange", zap.String("ord_id", h.OrderID), zap.String("filled", h.FilledQty.String()))
			return nil
		}

		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			return e.cancelOnTimeout(ctx, h)
		}
		wait := e.cfg.StatusInterval
		if wait <= 0 || wait > remaining {
			wait = remaining
		}
		if err := e.sleep(ctx, wait); err != nil {
			return e.interrupted(ctx, h)
		}
	}
}

func (e *Executor) cancelOnTimeout(ctx context.Context, h *Handle) error {
	e.log.Info("order timeout reached, cancelling",
		zap.String("ord_id", h.OrderID),
		zap.Duration("timeout", e.cfg.Timeout),
		zap.String("filled", h.FilledQty.String()),
	)
	err := e.policies.Cancel.Do(ctx, func(ctx context.Context) error {
		return e.exchange.CancelOrder(ctx, h.InstID, h.OrderID)
	})
	if err == nil {
		err = e.confirmCancel(ctx, h)
	}
	if err != nil {
		if ctx.Err() != nil {
			return e.interrupted(ctx, h)
		}
		e.setState(h, StateTimedOut)
		e.metrics.OrdersTimedOut.Inc()
		failure := fmt.Errorf("%w: order %s may still be resting: %w", apperr.ErrCancelFailed, h.OrderID, err)
		e.log.Error("cancel retries exhausted", zap.String("ord_id", h.OrderID), zap.Error(err))
		e.record(ctx, h, string(StateTimedOut), failure.Error())
		e.alert(ctx, fmt.Sprintf("CANCEL FAILED: %s order %s (cl_ord_id %s) may still be resting: %v", h.InstID, h.OrderID, h.ClientOrderID, err))
		return failure
	}
	if h.State == StateFilled {
		e.metrics.OrdersFilled.Inc()
		e.log.Info("order filled before cancel landed", zap.String("ord_id", h.OrderID))
		return nil
	}
	e.setState(h, StateTimedOut)
	e.metrics.OrdersTimedOut.Inc()
	e.log.Info("order timed out", zap.String("ord_id", h.OrderID), zap.String("filled", h.FilledQty.String()))
	e.record(ctx, h, string(StateTimedOut), "")
	return nil
}

// confirmCancel waits for the exchange to report the order closed.
func (e *Executor) confirmCancel(ctx context.Context, h *Handle) error {
	return e.policies.Cancel.Do(ctx, func(ctx context.Context) error {
		st, err := e.exchange.OrderStatus(ctx, h.InstID, h.OrderID, "")
		if errors.Is(err, ErrOrderNotFound) {
			return fmt.Errorf("%w: %w", apperr.ErrTransient, err)
		}
		if err != nil {
			return err
		}
		e.observe(ctx, h, st)
		if st.State == StateCancelled || st.State == StateFilled {
			return nil
		}
		return fmt.Errorf("%w: order %s still %s after cancel", apperr.ErrTransient, h.OrderID, st.State)
	})
}

// interrupted runs after the caller's context is done. A single cancel is
// attempted on a detached context; it may not complete before the process
// exits.
func (e *Executor) interrupted(ctx context.Context, h *Handle) error {
	e.bestEffortCancel(ctx, h, "interrupted")
	return ctx.Err()
}

func (e *Executor) bestEffortCancel(ctx context.Context, h *Handle, reason string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptCancelTimeout)
	defer cancel()
	if err := e.exchange.CancelOrder(cctx, h.InstID, h.OrderID); err != nil {
		e.log.Error("best-effort cancel failed", zap.String("reason", reason), zap.String("ord_id", h.OrderID), zap.Error(err))
		e.alert(cctx, fmt.Sprintf("CANCEL FAILED (%s): %s order %s may still be resting: %v", reason, h.InstID, h.OrderID, err))
		e.record(cctx, h, string(h.State), reason+": cancel failed: "+err.Error())
		return
	}
	e.log.Warn("order cancelled", zap.String("reason", reason), zap.String("ord_id", h.OrderID))
	e.record(cctx, h, string(h.State), reason+": cancel sent")
}

// abandon handles an interrupt during submission, when the order may or may
// not exist on the exchange.
func (e *Executor) abandon(ctx context.Context, h *Handle) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptCancelTimeout)
	defer cancel()
	if h.OrderID == "" {
		adopted, err := e.adopt(cctx, h)
		if err != nil {
			e.log.Error("could not determine whether interrupted order exists", zap.String("cl_ord_id", h.ClientOrderID), zap.Error(err))
			e.alert(cctx, fmt.Sprintf("UNKNOWN ORDER STATE: %s cl_ord_id %s interrupted during submit: %v", h.InstID, h.ClientOrderID, err))
			return
		}
		if !adopted {
			return
		}
	}
	e.bestEffortCancel(cctx, h, "interrupted during submit")
}

func (e *Executor) observe(ctx context.Context, h *Handle, st Status) {
	e.mu.Lock()
	prev, prevFilled := h.State, h.FilledQty
	h.apply(st)
	changed := h.State != prev || !h.FilledQty.Equal(prevFilled)
	e.mu.Unlock()
	if !changed {
		return
	}
	e.log.Info("order status",
		zap.String("ord_id", h.OrderID),
		zap.String("state", string(h.State)),
		zap.String("filled", h.FilledQty.String()),
	)
	e.record(ctx, h, string(h.State), "")
}

func (e *Executor) setState(h *Handle, s State) {
	e.mu.Lock()
	h.State = s
	e.mu.Unlock()
}

func (e *Executor) record(ctx context.Context, h *Handle, st, detail string) {
	ev := state.OrderEvent{
		At:            e.now(),
		ClientOrderID: h.ClientOrderID,
		OrderID:       h.OrderID,
		InstID:        h.InstID,
		State:         st,
		FilledQty:     h.FilledQty.String(),
		Detail:        detail,
	}
	if err := e.journal.Record(context.WithoutCancel(ctx), ev); err != nil {
		e.log.Warn("failed to journal order event", zap.String("state", st), zap.Error(err))
	}
}

func (e *Executor) alert(ctx context.Context, msg string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(context.WithoutCancel(ctx), msg); err != nil {
		e.log.Warn("failed to send alert", zap.Error(err))
	}
}
