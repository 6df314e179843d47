package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderStatus lifecycle state of a client order.
type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderAcknowledged
	OrderRejected
)

// String returns the status name.
func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderAcknowledged:
		return "acknowledged"
	case OrderRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ClientOrder an order issued by a user worker, indexed by its client order id.
type ClientOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Status          OrderStatus
}

// OrderIntent market order to be submitted for a command.
type OrderIntent struct {
	// Side buy or sell.
	Side Side
	// Pair trading pair.
	Pair Pair
	// Notional quote amount to spend, set for buys.
	Notional decimal.Decimal
	// Quantity base amount to sell, set for sells.
	Quantity decimal.Decimal
}

// String returns a human-readable string representation.
func (o OrderIntent) String() string {
	if o.Side == SideBuy {
		return fmt.Sprintf("%s %s notional: %s %s", o.Pair.String(), o.Side.Upper(), o.Notional.String(), o.Pair.To)
	}
	return fmt.Sprintf("%s %s quantity: %s %s", o.Pair.String(), o.Side.Upper(), o.Quantity.String(), o.Pair.From)
}

// NewClientOrderID derives the deterministic client order id,
// e.g. alice_BUY_BTC_USDT_market_order_3.
func NewClientOrderID(user string, side Side, pair Pair, n uint64) string {
	return fmt.Sprintf("%s_%s_%s_market_order_%d", user, side.Upper(), pair.String(), n)
}
