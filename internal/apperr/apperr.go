// Package apperr holds the error taxonomy shared by the gateway, the retry
// policy and the run orchestration. Errors are wrapped with %w and matched
// with errors.Is.
package apperr

import (
	"context"
	"errors"
	"net"
)

var (
	ErrTransient        = errors.New("transient fetch error")
	ErrAuth             = errors.New("authentication or permission failure")
	ErrPairNotFound     = errors.New("pair not found")
	ErrQuantityTooSmall = errors.New("quantity below minimum order size")
	ErrPriceComputation = errors.New("price computation failed")
	ErrOrderRejected    = errors.New("order rejected")
	ErrClockSync        = errors.New("clock sync failed")
	ErrCancelFailed     = errors.New("order cancel failed")
	ErrRetriesExhausted = errors.New("retry budget exhausted")
)

type Class int

const (
	Fatal Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Classify maps an error onto the two retry classes. Only errors explicitly
// marked transient, network timeouts and refused connections are retried.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	switch {
	case errors.Is(err, ErrAuth),
		errors.Is(err, ErrPairNotFound),
		errors.Is(err, ErrQuantityTooSmall),
		errors.Is(err, ErrPriceComputation),
		errors.Is(err, ErrOrderRejected),
		errors.Is(err, ErrClockSync),
		errors.Is(err, ErrCancelFailed),
		errors.Is(err, ErrRetriesExhausted):
		return Fatal
	case errors.Is(err, ErrTransient):
		return Transient
	}
	// http.Client deadline expiry surfaces as context.DeadlineExceeded wrapped
	// in a *url.Error; the parent context is checked by the retry loop.
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	return Fatal
}

func IsTransient(err error) bool {
	return Classify(err) == Transient
}
