// Package exchange adapts exchange clients into event feeds consumed by the workers.
//
// Requests never return their results directly: responses arrive on the Events channel,
// the same way websocket responses arrive, so workers handle every exchange input in one place.
package exchange

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

const eventBuffer = 256

// Event is something the exchange reported.
type Event interface {
	eventName() string
}

// TickerEvent best bid and ask of the pair.
type TickerEvent struct {
	Pair domain.Pair
	Bid  decimal.Decimal
	Ask  decimal.Decimal
}

// InstrumentsEvent precision metadata keyed by instrument name (BTC_USDT).
type InstrumentsEvent struct {
	Precisions map[string]domain.Precision
}

// BalancesEvent available balances by asset.
type BalancesEvent struct {
	Balances map[string]decimal.Decimal
}

// OrderAckEvent the exchange created an order.
type OrderAckEvent struct {
	ClientOrderID   string
	ExchangeOrderID string
}

// OrderUpdateEvent the exchange reported a new order state.
type OrderUpdateEvent struct {
	ClientOrderID   string
	ExchangeOrderID string
	Status          string
}

// OrderRejectedEvent the exchange refused to create an order.
type OrderRejectedEvent struct {
	ClientOrderID string
	Err           error
}

// ErrorEvent a request or subscription failed.
type ErrorEvent struct {
	Op  string
	Err error
}

func (TickerEvent) eventName() string        { return "ticker" }
func (InstrumentsEvent) eventName() string   { return "instruments" }
func (BalancesEvent) eventName() string      { return "balances" }
func (OrderAckEvent) eventName() string      { return "order_ack" }
func (OrderUpdateEvent) eventName() string   { return "order_update" }
func (OrderRejectedEvent) eventName() string { return "order_rejected" }
func (ErrorEvent) eventName() string         { return "error" }

// Name returns a short event name for logs.
func Name(e Event) string {
	return e.eventName()
}

// MarketFeed streams ticker events.
type MarketFeed interface {
	// Start begins producing events in the background. It does not block.
	Start(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// AccountFeed streams account events and accepts requests whose results arrive as events.
type AccountFeed interface {
	MarketFeed
	RequestInstruments(ctx context.Context) error
	RequestBalances(ctx context.Context) error
	SubmitOrder(ctx context.Context, clientOrderID string, intent domain.OrderIntent) error
}

// offerLatest sends e, evicting the oldest buffered event when the buffer is full.
// Used for ticker events where only the latest value matters.
func offerLatest(ch chan Event, e Event) {
	for i := 0; i < 2; i++ {
		select {
		case ch <- e:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// deliver sends e unless ctx is done.
func deliver(ctx context.Context, ch chan Event, e Event) {
	select {
	case ch <- e:
	case <-ctx.Done():
	}
}

// decimalsOf returns the number of significant fractional digits of a step such as "0.01000000".
func decimalsOf(step string) (int32, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil {
		return 0, err
	}
	if d.IsZero() {
		return 0, nil
	}

	places := int32(0)
	for !d.Equal(d.Truncate(places)) {
		places++
	}
	return places, nil
}
