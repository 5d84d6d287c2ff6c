package app

import (
	"context"
	"errors"
	"fmt"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/state"
)

// Preview is what a run would do right now, computed without placing an order.
type Preview struct {
	InstID      string `json:"inst_id"`
	ClockOffset string `json:"clock_offset"`
	Listed      bool   `json:"listed"`
	Trading     bool   `json:"trading"`
	TickSize    string `json:"tick_size,omitempty"`
	LotSize     string `json:"lot_size,omitempty"`
	MinSize     string `json:"min_size,omitempty"`
	Last        string `json:"last,omitempty"`
	Desired     string `json:"desired,omitempty"`
	LimitPrice  string `json:"limit_price,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
}

// Preview syncs the clock and computes the order intent from the current
// ticker. A pair that is not listed or not yet trading is reported, not an
// error.
func (a *App) Preview(ctx context.Context) (Preview, error) {
	p := Preview{InstID: a.cfg.Order.Pair}
	offset, err := a.clock.Sync(ctx)
	if err != nil {
		return p, err
	}
	p.ClockOffset = offset.String()

	rules, err := a.client.Instrument(ctx, a.cfg.Order.Pair)
	if errors.Is(err, apperr.ErrPairNotFound) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("instrument: %w", err)
	}
	p.Listed = true
	p.TickSize = rules.TickSize.String()
	p.LotSize = rules.LotSize.String()
	p.MinSize = rules.MinSize.String()

	desired, err := a.desiredQuantity(ctx, rules)
	if err != nil {
		return p, err
	}
	p.Desired = desired.String()

	snap, err := a.client.Ticker(ctx, a.cfg.Order.Pair)
	if err != nil {
		return p, fmt.Errorf("ticker: %w", err)
	}
	if !snap.Trading() {
		return p, nil
	}
	p.Trading = true
	p.Last = snap.Last.String()

	order, err := a.calc.Compute(snap, a.cfg.Order.Offset, rules, desired)
	if err != nil {
		return p, err
	}
	p.LimitPrice = order.LimitPrice.String()
	p.Quantity = order.Quantity.String()
	p.TimeInForce = string(order.TimeInForce)
	return p, nil
}

// History returns the latest journaled order events, newest first.
func (a *App) History(ctx context.Context, limit int) ([]state.OrderEvent, error) {
	return a.store.Recent(ctx, limit)
}
