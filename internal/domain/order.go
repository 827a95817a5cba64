package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy (long) or sell (short).
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// OrderRequest describes a market order to open or close one leg.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Quantity   decimal.Decimal // base units; rounded to the venue tick by the client
	ReduceOnly bool
}

// OrderResult wraps the venue response after order submission.
type OrderResult struct {
	Success      bool
	OrderID      string
	Status       OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	FeeUSD       decimal.Decimal
	Message      string
	ShouldRetry  bool
	SubmittedAt  time.Time
}
