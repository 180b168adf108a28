package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Side converts a trade direction to an order side. NONE maps to an empty
// side, which no broker accepts.
func (d Direction) Side() OrderSide {
	switch d {
	case DirectionBuy:
		return OrderSideBuy
	case DirectionSell:
		return OrderSideSell
	default:
		return ""
	}
}

// OrderStatus tracks the broker-reported order lifecycle.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusExpired  OrderStatus = "EXPIRED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusUnknown  OrderStatus = "UNKNOWN"
)

// Terminal reports whether the status is final: the broker will not change it.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is a broker order for the duration of one placement attempt. It is
// transient and never persisted. The simulated broker produces orders with
// identical fields so callers cannot distinguish modes.
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Quantity  float64
	Price     float64
	PostOnly  bool
	Status    OrderStatus
	CreatedAt time.Time
}

// BrokerClient is the exchange-facing contract. The live REST implementation
// and the simulated implementation share it, selected once at construction so
// higher layers exercise identical code paths in both modes.
type BrokerClient interface {
	// PlaceLimit submits a limit order. With postOnly the order is rejected
	// by the exchange rather than matched if it would cross the spread.
	PlaceLimit(ctx context.Context, symbol string, side OrderSide, qty, price float64, postOnly bool) (Order, error)

	// PlaceMarket submits an unconditional taker order. Last-resort path.
	PlaceMarket(ctx context.Context, symbol string, side OrderSide, qty float64) (Order, error)

	// Cancel cancels a single order.
	Cancel(ctx context.Context, symbol, orderID string) error

	// CancelAll cancels every open order for a symbol.
	CancelAll(ctx context.Context, symbol string) error

	// OrderStatus polls the broker for the current status of an order.
	OrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)

	// Balance returns the total account balance in quote currency.
	Balance(ctx context.Context) (float64, error)

	// AvailableBalance returns the balance not locked in open positions.
	AvailableBalance(ctx context.Context) (float64, error)
}
