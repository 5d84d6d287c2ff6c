// Package pricing derives a compliant limit sell order from a ticker snapshot
// and instrument rules. All arithmetic is exact decimal; nothing here performs
// I/O.
package pricing

import (
	"fmt"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/exec"
	"okx-listing-bot/internal/market"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Calculator struct {
	TimeInForce exec.TimeInForce
}

// Compute returns a sell order priced offsetPercent below snap.Last, floored to
// the tick grid, with desired floored to the lot grid. It fails with
// apperr.ErrQuantityTooSmall when the floored quantity is below the minimum
// order size.
func (c Calculator) Compute(snap market.Snapshot, offsetPercent decimal.Decimal, rules market.InstrumentRules, desired decimal.Decimal) (exec.Order, error) {
	if err := rules.Validate(); err != nil {
		return exec.Order{}, err
	}
	price, err := LimitPrice(snap.Last, offsetPercent, rules.TickSize)
	if err != nil {
		return exec.Order{}, err
	}
	qty, err := Quantity(desired, rules.LotSize, rules.MinSize)
	if err != nil {
		return exec.Order{}, err
	}
	tif := c.TimeInForce
	if tif == "" {
		tif = exec.TifGTC
	}
	instID := rules.InstID
	if instID == "" {
		instID = snap.InstID
	}
	return exec.Order{
		InstID:      instID,
		Side:        exec.SideSell,
		LimitPrice:  price,
		Quantity:    qty,
		TimeInForce: tif,
	}, nil
}

// LimitPrice computes last * (1 - offsetPercent/100) floored to a multiple of
// tick. Flooring keeps the price at or below the offset ceiling.
func LimitPrice(last, offsetPercent, tick decimal.Decimal) (decimal.Decimal, error) {
	if !last.IsPositive() {
		return decimal.Zero, fmt.Errorf("last price %s: %w", last, apperr.ErrPriceComputation)
	}
	if offsetPercent.IsNegative() || offsetPercent.GreaterThanOrEqual(hundred) {
		return decimal.Zero, fmt.Errorf("offset %s%% outside [0, 100): %w", offsetPercent, apperr.ErrPriceComputation)
	}
	if !tick.IsPositive() {
		return decimal.Zero, fmt.Errorf("tick size %s: %w", tick, apperr.ErrPriceComputation)
	}
	// Shift(-2) divides by 100 without rounding.
	target := last.Mul(hundred.Sub(offsetPercent)).Shift(-2)
	price := floorTo(target, tick)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("target %s floors to %s at tick %s: %w", target, price, tick, apperr.ErrPriceComputation)
	}
	return price, nil
}

// Quantity floors desired to a multiple of lot and enforces minSize.
func Quantity(desired, lot, minSize decimal.Decimal) (decimal.Decimal, error) {
	if !lot.IsPositive() {
		return decimal.Zero, fmt.Errorf("lot size %s: %w", lot, apperr.ErrPriceComputation)
	}
	if !desired.IsPositive() {
		return decimal.Zero, fmt.Errorf("desired quantity %s: %w", desired, apperr.ErrQuantityTooSmall)
	}
	qty := floorTo(desired, lot)
	if !qty.IsPositive() || qty.LessThan(minSize) {
		return decimal.Zero, fmt.Errorf("quantity %s (from %s, lot %s) below minimum %s: %w", qty, desired, lot, minSize, apperr.ErrQuantityTooSmall)
	}
	return qty, nil
}

// floorTo returns the largest multiple of step not above v, for v >= 0.
// QuoRem is exact, unlike Div which rounds at DivisionPrecision.
func floorTo(v, step decimal.Decimal) decimal.Decimal {
	q, _ := v.QuoRem(step, 0)
	return q.Mul(step)
}
