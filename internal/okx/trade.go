package okx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"okx-listing-bot/internal/apperr"

	"github.com/shopspring/decimal"
)

type balanceWire struct {
	Details []struct {
		Ccy      string `json:"ccy"`
		AvailBal string `json:"availBal"`
	} `json:"details"`
}

// AvailableBalance returns the free trading balance of ccy.
func (c *Client) AvailableBalance(ctx context.Context, ccy string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ccy", ccy)
	var data []balanceWire
	if err := c.get(ctx, "/api/v5/account/balance", query, true, &data); err != nil {
		return decimal.Zero, err
	}
	for _, acct := range data {
		for _, detail := range acct.Details {
			if strings.EqualFold(detail.Ccy, ccy) {
				return decimalOrZero(detail.AvailBal)
			}
		}
	}
	return decimal.Zero, nil
}

// OrderRequest is a cash-mode spot order.
type OrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px"`
	ClOrdID string `json:"clOrdId,omitempty"`
}

type OrderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type orderAcks []OrderAck

type itemErrors interface {
	itemError(method, path string) error
}

func (a *orderAcks) itemError(method, path string) error {
	for _, ack := range *a {
		if ack.SCode != "" && ack.SCode != "0" {
			return codeError(method, path, 200, ack.SCode, ack.SMsg)
		}
	}
	return nil
}

func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (OrderAck, error) {
	if order.TdMode == "" {
		order.TdMode = "cash"
	}
	var acks orderAcks
	if err := c.post(ctx, "/api/v5/trade/order", order, &acks); err != nil {
		return OrderAck{}, err
	}
	if err := acks.itemError("POST", "/api/v5/trade/order"); err != nil {
		return OrderAck{}, err
	}
	if len(acks) == 0 || acks[0].OrdID == "" {
		return OrderAck{}, fmt.Errorf("place order: missing order id in response: %w", apperr.ErrOrderRejected)
	}
	return acks[0], nil
}

type cancelRequest struct {
	InstID  string `json:"instId"`
	OrdID   string `json:"ordId,omitempty"`
	ClOrdID string `json:"clOrdId,omitempty"`
}

// CancelOrder cancels by exchange order id. An order that already reached a
// terminal state returns ErrOrderClosed.
func (c *Client) CancelOrder(ctx context.Context, instID, ordID string) error {
	if ordID == "" {
		return errors.New("cancel order: order id is required")
	}
	var acks orderAcks
	if err := c.post(ctx, "/api/v5/trade/cancel-order", cancelRequest{InstID: instID, OrdID: ordID}, &acks); err != nil {
		return err
	}
	return acks.itemError("POST", "/api/v5/trade/cancel-order")
}

// OKX order states.
const (
	StateLive            = "live"
	StatePartiallyFilled = "partially_filled"
	StateFilled          = "filled"
	StateCanceled        = "canceled"
	StateMMPCanceled     = "mmp_canceled"
)

type OrderDetail struct {
	OrdID    string
	ClOrdID  string
	State    string
	FilledSz decimal.Decimal
	AvgPx    decimal.Decimal
	Px       decimal.Decimal
	Sz       decimal.Decimal
}

type orderDetailWire struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
}

// Order looks an order up by ordID, or by clOrdID when ordID is empty.
func (c *Client) Order(ctx context.Context, instID, ordID, clOrdID string) (OrderDetail, error) {
	if ordID == "" && clOrdID == "" {
		return OrderDetail{}, errors.New("order lookup: ordId or clOrdId is required")
	}
	query := url.Values{}
	query.Set("instId", instID)
	if ordID != "" {
		query.Set("ordId", ordID)
	} else {
		query.Set("clOrdId", clOrdID)
	}
	var data []orderDetailWire
	if err := c.get(ctx, "/api/v5/trade/order", query, true, &data); err != nil {
		return OrderDetail{}, err
	}
	if len(data) == 0 {
		return OrderDetail{}, ErrOrderNotFound
	}
	w := data[0]
	detail := OrderDetail{OrdID: w.OrdID, ClOrdID: w.ClOrdID, State: w.State}
	var err error
	if detail.FilledSz, err = decimalOrZero(w.AccFillSz); err != nil {
		return OrderDetail{}, fmt.Errorf("order %s accFillSz: %w", w.OrdID, err)
	}
	if detail.AvgPx, err = decimalOrZero(w.AvgPx); err != nil {
		return OrderDetail{}, fmt.Errorf("order %s avgPx: %w", w.OrdID, err)
	}
	if detail.Px, err = decimalOrZero(w.Px); err != nil {
		return OrderDetail{}, fmt.Errorf("order %s px: %w", w.OrdID, err)
	}
	if detail.Sz, err = decimalOrZero(w.Sz); err != nil {
		return OrderDetail{}, fmt.Errorf("order %s sz: %w", w.OrdID, err)
	}
	return detail, nil
}
