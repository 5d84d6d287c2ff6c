package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"okx-listing-bot/internal/exec"
	"okx-listing-bot/internal/state"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Stage string

const (
	StageClock   Stage = "clock_sync"
	StageDetect  Stage = "detect"
	StageRules   Stage = "instrument_rules"
	StagePrice   Stage = "price"
	StageExecute Stage = "execute"
)

// Outcomes that are not order states.
const (
	OutcomeAborted = "ABORTED"
	OutcomeFailed  = "FAILED"
)

// Report is the terminal record of a run.
type Report struct {
	InstID     string
	Outcome    string
	Stage      Stage
	Detector   string
	LastPrice  decimal.Decimal
	Order      *exec.Order
	Handle     *exec.Handle
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Report) finalize(err error) {
	r.Err = err
	r.FinishedAt = time.Now().UTC()
	switch {
	case errors.Is(err, context.Canceled):
		r.Outcome = OutcomeAborted
	case r.Handle != nil && r.Handle.State.Terminal():
		r.Outcome = string(r.Handle.State)
	default:
		r.Outcome = OutcomeFailed
	}
}

// Success reports whether the run placed an order that ended without error.
func (r Report) Success() bool {
	return r.Err == nil && r.Handle != nil
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", r.InstID, r.Outcome)
	if r.Order != nil {
		fmt.Fprintf(&b, "\nsell %s @ %s (%s)", r.Order.Quantity, r.Order.LimitPrice, r.Order.TimeInForce)
	}
	if !r.LastPrice.IsZero() {
		fmt.Fprintf(&b, "\nlast price %s", r.LastPrice)
	}
	if r.Handle != nil {
		if r.Handle.OrderID != "" {
			fmt.Fprintf(&b, "\nord_id %s", r.Handle.OrderID)
		}
		fmt.Fprintf(&b, "\nfilled %s", r.Handle.FilledQty)
		if r.Handle.AvgPrice.IsPositive() {
			fmt.Fprintf(&b, " avg %s", r.Handle.AvgPrice)
		}
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "\nerror at %s: %v", r.Stage, r.Err)
	}
	fmt.Fprintf(&b, "\nelapsed %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return b.String()
}

func (r Report) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("inst_id", r.InstID),
		zap.String("outcome", r.Outcome),
		zap.String("stage", string(r.Stage)),
		zap.String("detector", r.Detector),
		zap.Duration("elapsed", r.FinishedAt.Sub(r.StartedAt)),
	}
	if r.Order != nil {
		fields = append(fields,
			zap.String("px", r.Order.LimitPrice.String()),
			zap.String("sz", r.Order.Quantity.String()),
		)
	}
	if r.Handle != nil {
		fields = append(fields,
			zap.String("ord_id", r.Handle.OrderID),
			zap.String("cl_ord_id", r.Handle.ClientOrderID),
			zap.String("filled", r.Handle.FilledQty.String()),
			zap.String("avg_px", r.Handle.AvgPrice.String()),
		)
	}
	if r.Err != nil {
		fields = append(fields, zap.Error(r.Err))
	}
	return fields
}

// publish logs, journals and alerts the report. It runs after interrupts too,
// so it never uses the caller's cancellation.
func (a *App) publish(ctx context.Context, r Report) {
	ctx = context.WithoutCancel(ctx)
	if r.Err != nil && r.Outcome != OutcomeAborted {
		a.log.Error("run finished", r.fields()...)
	} else {
		a.log.Info("run finished", r.fields()...)
	}
	if r.Handle != nil && r.Handle.ClientOrderID != "" {
		ev := state.OrderEvent{
			At:            r.FinishedAt,
			ClientOrderID: r.Handle.ClientOrderID,
			OrderID:       r.Handle.OrderID,
			InstID:        r.InstID,
			State:         "REPORT:" + r.Outcome,
			FilledQty:     r.Handle.FilledQty.String(),
		}
		if r.Err != nil {
			ev.Detail = r.Err.Error()
		}
		if err := a.store.Record(ctx, ev); err != nil {
			a.log.Warn("failed to journal report", zap.Error(err))
		}
	}
	if a.alerts.Enabled() {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.alerts.Send(sendCtx, r.String()); err != nil {
			a.log.Warn("failed to send report", zap.Error(err))
		}
	}
}
