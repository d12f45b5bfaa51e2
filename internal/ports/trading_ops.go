package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
)

// Small capability interfaces shared across layers (tracker/exchange adapters).

// OrderRequest is a single placement. Price nil means a market order; otherwise the
// order is a conditional (trigger) order at that price.
type OrderRequest struct {
	ClientID   string
	Symbol     string
	Side       domain.TradeSide
	Size       decimal.Decimal
	Price      *decimal.Decimal
	ReduceOnly bool
	Hedge      bool
}

// PlaceResult is either accepted with an order id, or rejected with a reason.
// Transport failures are returned as errors instead.
type PlaceResult struct {
	Accepted bool
	OrderID  domain.OrderID
	Reason   string
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (PlaceResult, error)
}

type OrderCanceler interface {
	// CancelOrder returns false when the venue did not confirm the cancel.
	CancelOrder(ctx context.Context, orderID domain.OrderID) (bool, error)
}

// OrderGateway is the external order-placement collaborator.
type OrderGateway interface {
	OrderPlacer
	OrderCanceler
}
