package executor

import (
	"context"
	"time"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/router"
)

// confirmOrder polls an order-flow submission until the solver network
// settles it, driving the step to a terminal verdict. Returns the
// settlement transaction hash when the API reports one.
func (e *Executor) confirmOrder(ctx context.Context, route router.Route, orderID string) (string, error) {
	of, ok := e.routes.Order(route)
	if !ok {
		return "", core.NewError(core.KindConfig, "no order flow for route "+string(route), nil)
	}
	ticker := time.NewTicker(e.cfg.ConfirmInterval)
	defer ticker.Stop()
	for {
		status, hash, err := of.OrderStatus(ctx, orderID)
		if err == nil {
			switch status {
			case router.StatusFilled:
				return hash, nil
			case router.StatusRejected:
				return "", core.NewError(core.KindReverted, "order rejected by settlement api", nil)
			case router.StatusExpired:
				// The validity window lapsing without a fill means the
				// limit price was never met.
				return "", core.NewError(core.KindSlippageExceeded, "order expired unfilled", nil)
			}
		}
		select {
		case <-ctx.Done():
			return "", core.NewError(core.KindTimeout, "order settlement budget exhausted", ctx.Err())
		case <-ticker.C:
		}
	}
}
