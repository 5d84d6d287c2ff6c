package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentRules are the numeric constraints an order for InstID must satisfy.
type InstrumentRules struct {
	InstID   string
	BaseCcy  string
	QuoteCcy string
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
	MinSize  decimal.Decimal
	State    string
}

// Snapshot is a single ticker observation. A zero Last means no trade has
// printed yet.
type Snapshot struct {
	InstID     string
	Last       decimal.Decimal
	ObservedAt time.Time
}

// Trading reports whether the snapshot proves trading has started.
func (s Snapshot) Trading() bool {
	return s.Last.IsPositive()
}
