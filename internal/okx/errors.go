package okx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"okx-listing-bot/internal/apperr"
)

var (
	// ErrOrderNotFound is returned by order lookups for unknown ids.
	ErrOrderNotFound = errors.New("order does not exist")
	// ErrOrderClosed is returned by cancel when the order already reached a
	// terminal state on the exchange.
	ErrOrderClosed = errors.New("order already closed")
	// ErrAPI covers responses that map to no more specific class.
	ErrAPI = errors.New("okx api error")
)

// APIError carries the raw OKX code for logging; Unwrap exposes the taxonomy
// sentinel it maps to.
type APIError struct {
	Method string
	Path   string
	Status int
	Code   string
	Msg    string
	kind   error
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Msg)
	if msg == "" {
		msg = "no message"
	}
	return fmt.Sprintf("okx %s %s: http %d code %s: %s", e.Method, e.Path, e.Status, e.Code, msg)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

var transientCodes = map[string]struct{}{
	"50001": {}, // service temporarily unavailable
	"50004": {}, // endpoint request timeout
	"50011": {}, // rate limit reached
	"50013": {}, // system busy
	"50026": {}, // system error
	"50102": {}, // timestamp expired, the client resyncs before returning
}

const codeTimestampExpired = "50102"

var closedCodes = map[string]struct{}{
	"51400": {}, // cancellation failed, order already cancelled or missing
	"51401": {}, // order already cancelled
	"51402": {}, // order already completed
}

func timestampExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeTimestampExpired
}

func classifyCode(code string) error {
	if _, ok := transientCodes[code]; ok {
		return apperr.ErrTransient
	}
	if _, ok := closedCodes[code]; ok {
		return ErrOrderClosed
	}
	switch {
	case code == "51001":
		return apperr.ErrPairNotFound
	case code == "51603":
		return ErrOrderNotFound
	case strings.HasPrefix(code, "501"):
		return apperr.ErrAuth
	case strings.HasPrefix(code, "51"):
		return apperr.ErrOrderRejected
	}
	return nil
}

func codeError(method, path string, status int, code, msg string) error {
	kind := classifyCode(code)
	if kind == nil {
		kind = statusKind(status)
	}
	return &APIError{Method: method, Path: path, Status: status, Code: code, Msg: msg, kind: kind}
}

func statusError(method, path string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 2048 {
		msg = msg[:2048]
	}
	return &APIError{Method: method, Path: path, Status: status, Msg: msg, kind: statusKind(status)}
}

func statusKind(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.ErrAuth
	case status == http.StatusTooManyRequests || status >= 500:
		return apperr.ErrTransient
	}
	return ErrAPI
}
