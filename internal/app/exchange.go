package app

import (
	"context"
	"errors"
	"fmt"

	"okx-listing-bot/internal/exec"
	"okx-listing-bot/internal/okx"
)

// exchangeAdapter maps executor calls onto the OKX trade endpoints.
type exchangeAdapter struct {
	client *okx.Client
}

func (e exchangeAdapter) PlaceOrder(ctx context.Context, order exec.Order, clientOrderID string) (string, error) {
	if e.client == nil {
		return "", errors.New("exchange client is required")
	}
	ack, err := e.client.PlaceOrder(ctx, okx.OrderRequest{
		InstID:  order.InstID,
		TdMode:  "cash",
		Side:    string(order.Side),
		OrdType: ordType(order.TimeInForce),
		Sz:      order.Quantity.String(),
		Px:      order.LimitPrice.String(),
		ClOrdID: clientOrderID,
	})
	if err != nil {
		return "", err
	}
	return ack.OrdID, nil
}

func (e exchangeAdapter) CancelOrder(ctx context.Context, instID, orderID string) error {
	if e.client == nil {
		return errors.New("exchange client is required")
	}
	err := e.client.CancelOrder(ctx, instID, orderID)
	if errors.Is(err, okx.ErrOrderClosed) {
		return nil
	}
	return err
}

func (e exchangeAdapter) OrderStatus(ctx context.Context, instID, orderID, clientOrderID string) (exec.Status, error) {
	if e.client == nil {
		return exec.Status{}, errors.New("exchange client is required")
	}
	detail, err := e.client.Order(ctx, instID, orderID, clientOrderID)
	if errors.Is(err, okx.ErrOrderNotFound) {
		return exec.Status{}, fmt.Errorf("%w: %w", exec.ErrOrderNotFound, err)
	}
	if err != nil {
		return exec.Status{}, err
	}
	return exec.Status{
		OrderID:   detail.OrdID,
		State:     orderState(detail.State),
		FilledQty: detail.FilledSz,
		AvgPrice:  detail.AvgPx,
	}, nil
}

// ordType encodes time in force the way OKX does: as the order type.
func ordType(tif exec.TimeInForce) string {
	switch tif {
	case exec.TifIOC:
		return "ioc"
	case exec.TifFOK:
		return "fok"
	default:
		return "limit"
	}
}

func orderState(s string) exec.State {
	switch s {
	case okx.StatePartiallyFilled:
		return exec.StatePartiallyFilled
	case okx.StateFilled:
		return exec.StateFilled
	case okx.StateCanceled, okx.StateMMPCanceled:
		return exec.StateCancelled
	default:
		return exec.StateSubmitted
	}
}
