package exec

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const SideSell Side = "sell"

type TimeInForce string

const (
	TifGTC TimeInForce = "gtc"
	TifIOC TimeInForce = "ioc"
	TifFOK TimeInForce = "fok"
)

// Order is the intent handed to the executor. It is built once from a market
// snapshot and instrument rules and never modified afterwards.
type Order struct {
	InstID      string
	Side        Side
	LimitPrice  decimal.Decimal
	Quantity    decimal.Decimal
	TimeInForce TimeInForce
}

type State string

const (
	StateSubmitted       State = "SUBMITTED"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCancelled       State = "CANCELLED"
	StateRejected        State = "REJECTED"
	StateTimedOut        State = "TIMED_OUT"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateTimedOut:
		return true
	}
	return false
}

// Status is a single observation of an order on the exchange.
type Status struct {
	OrderID   string
	State     State
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
}

// Handle tracks the one live order of a run. Only the executor mutates it.
type Handle struct {
	InstID        string
	OrderID       string
	ClientOrderID string
	SubmittedAt   time.Time
	State         State
	FilledQty     decimal.Decimal
	AvgPrice      decimal.Decimal
}

func (h *Handle) apply(status Status) {
	if status.State != "" {
		h.State = status.State
	}
	if status.OrderID != "" {
		h.OrderID = status.OrderID
	}
	h.FilledQty = status.FilledQty
	h.AvgPrice = status.AvgPrice
}
