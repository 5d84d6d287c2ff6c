package state

import (
	"context"
	"time"
)

// OrderEvent is one step of an order's lifecycle. Quantities are kept as the
// decimal strings sent to or received from the exchange.
type OrderEvent struct {
	At            time.Time
	ClientOrderID string
	OrderID       string
	InstID        string
	State         string
	FilledQty     string
	Detail        string
}

// Journal is an append-only audit log. Nothing in the bot reads it back to
// resume work; it exists so operators can reconstruct what happened.
type Journal interface {
	Record(ctx context.Context, ev OrderEvent) error
	Close() error
}

type discard struct{}

func (discard) Record(context.Context, OrderEvent) error { return nil }
func (discard) Close() error                             { return nil }

// Discard drops every event.
var Discard Journal = discard{}
