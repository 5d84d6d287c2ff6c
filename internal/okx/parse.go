package okx

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// decimalOrZero parses OKX numeric strings. OKX sends "" for fields that have
// no value yet, such as the last price before the first trade.
func decimalOrZero(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func millisToTime(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid millisecond timestamp %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}
