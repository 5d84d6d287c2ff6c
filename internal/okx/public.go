package okx

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"okx-listing-bot/internal/apperr"
	"okx-listing-bot/internal/market"

	"go.uber.org/zap"
)

type serverTimeWire struct {
	Ts string `json:"ts"`
}

func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var data []serverTimeWire
	if err := c.get(ctx, "/api/v5/public/time", nil, false, &data); err != nil {
		return time.Time{}, err
	}
	if len(data) == 0 {
		return time.Time{}, fmt.Errorf("server time: empty response: %w", apperr.ErrTransient)
	}
	return millisToTime(data[0].Ts)
}

type instrumentWire struct {
	InstID   string `json:"instId"`
	BaseCcy  string `json:"baseCcy"`
	QuoteCcy string `json:"quoteCcy"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	State    string `json:"state"`
}

// Instrument fetches the spot instrument rules. A pair that is not (yet)
// listed yields apperr.ErrPairNotFound.
func (c *Client) Instrument(ctx context.Context, instID string) (market.InstrumentRules, error) {
	query := url.Values{}
	query.Set("instType", "SPOT")
	query.Set("instId", instID)
	var data []instrumentWire
	if err := c.get(ctx, "/api/v5/public/instruments", query, false, &data); err != nil {
		return market.InstrumentRules{}, err
	}
	for _, item := range data {
		if !strings.EqualFold(item.InstID, instID) {
			continue
		}
		return item.rules()
	}
	return market.InstrumentRules{}, fmt.Errorf("instrument %s: %w", instID, apperr.ErrPairNotFound)
}

func (w instrumentWire) rules() (market.InstrumentRules, error) {
	tick, err := decimalOrZero(w.TickSz)
	if err != nil {
		return market.InstrumentRules{}, fmt.Errorf("instrument %s tickSz: %w", w.InstID, err)
	}
	lot, err := decimalOrZero(w.LotSz)
	if err != nil {
		return market.InstrumentRules{}, fmt.Errorf("instrument %s lotSz: %w", w.InstID, err)
	}
	minSz, err := decimalOrZero(w.MinSz)
	if err != nil {
		return market.InstrumentRules{}, fmt.Errorf("instrument %s minSz: %w", w.InstID, err)
	}
	return market.InstrumentRules{
		InstID:   w.InstID,
		BaseCcy:  w.BaseCcy,
		QuoteCcy: w.QuoteCcy,
		TickSize: tick,
		LotSize:  lot,
		MinSize:  minSz,
		State:    w.State,
	}, nil
}

type tickerWire struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

// Ticker returns the latest trade price. Before trading opens OKX either
// omits the ticker or reports an empty/zero last price; both come back as a
// snapshot with a zero Last rather than an error.
func (c *Client) Ticker(ctx context.Context, instID string) (market.Snapshot, error) {
	query := url.Values{}
	query.Set("instId", instID)
	var data []tickerWire
	if err := c.get(ctx, "/api/v5/market/ticker", query, false, &data); err != nil {
		return market.Snapshot{}, err
	}
	snap := market.Snapshot{InstID: instID, ObservedAt: c.clock.Now()}
	if len(data) == 0 {
		return snap, nil
	}
	last, err := decimalOrZero(data[0].Last)
	if err != nil {
		c.log.Debug("ticker last not numeric", zap.String("inst_id", instID), zap.String("last", data[0].Last))
		return snap, nil
	}
	snap.Last = last
	if data[0].Ts != "" {
		if ts, err := millisToTime(data[0].Ts); err == nil {
			snap.ObservedAt = ts
		}
	}
	return snap, nil
}
