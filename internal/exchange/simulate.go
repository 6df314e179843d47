package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
	"go.uber.org/zap"
)

// QuoteSource returns the latest observed prices, e.g. the market store.
type QuoteSource interface {
	BestBid(ctx context.Context) (decimal.Decimal, error)
	BestAsk(ctx context.Context) (decimal.Decimal, error)
}

// SimulateAccountFeed an in-memory account that fills market orders at the observed price.
type SimulateAccountFeed struct {
	mu        sync.Mutex
	pair      domain.Pair
	precision domain.Precision
	wallet    map[string]decimal.Decimal
	quotes    QuoteSource
	l         *zap.Logger
	events    chan Event
	nextID    int64
}

// NewSimulateAccountFeed creates a simulated account funded with wallet.
func NewSimulateAccountFeed(pair domain.Pair, precision domain.Precision, wallet map[string]decimal.Decimal, quotes QuoteSource, l *zap.Logger) (*SimulateAccountFeed, error) {
	if quotes == nil {
		return nil, errors.New("quote source is required for SimulateAccountFeed")
	}
	if l == nil {
		l = zap.NewNop()
	}

	w := make(map[string]decimal.Decimal, len(wallet))
	for k, v := range wallet {
		w[k] = v
	}

	return &SimulateAccountFeed{
		pair:      pair,
		precision: precision,
		wallet:    w,
		quotes:    quotes,
		l:         l,
		events:    make(chan Event, eventBuffer),
	}, nil
}

// DefaultSimulateWallet ten thousand units of the quote asset.
func DefaultSimulateWallet(pair domain.Pair) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{pair.From: decimal.Zero, pair.To: decimal.NewFromInt(10000)}
}

func (f *SimulateAccountFeed) Start(context.Context) error {
	return nil
}

func (f *SimulateAccountFeed) Events() <-chan Event {
	return f.events
}

func (f *SimulateAccountFeed) Close() error {
	return nil
}

func (f *SimulateAccountFeed) RequestInstruments(ctx context.Context) error {
	deliver(ctx, f.events, InstrumentsEvent{Precisions: map[string]domain.Precision{f.pair.String(): f.precision}})
	return nil
}

func (f *SimulateAccountFeed) RequestBalances(ctx context.Context) error {
	deliver(ctx, f.events, BalancesEvent{Balances: f.snapshot()})
	return nil
}

// SubmitOrder fills the whole order immediately. A buy spends Notional at the best ask,
// a sell sells Quantity at the best bid.
func (f *SimulateAccountFeed) SubmitOrder(ctx context.Context, clientOrderID string, intent domain.OrderIntent) error {
	f.mu.Lock()

	var err error
	switch intent.Side {
	case domain.SideBuy:
		err = f.buy(ctx, intent.Notional)
	case domain.SideSell:
		err = f.sell(ctx, intent.Quantity)
	default:
		err = errors.Errorf("unknown order side %d", intent.Side)
	}
	if err != nil {
		f.mu.Unlock()
		deliver(ctx, f.events, OrderRejectedEvent{ClientOrderID: clientOrderID, Err: err})
		return nil
	}

	f.nextID++
	exchangeID := fmt.Sprintf("sim-%d", f.nextID)
	f.mu.Unlock()

	f.l.Info("simulated fill",
		zap.String("client_order_id", clientOrderID),
		zap.String("order", intent.String()))

	deliver(ctx, f.events, OrderAckEvent{ClientOrderID: clientOrderID, ExchangeOrderID: exchangeID})
	deliver(ctx, f.events, OrderUpdateEvent{ClientOrderID: clientOrderID, ExchangeOrderID: exchangeID, Status: "FILLED"})
	deliver(ctx, f.events, BalancesEvent{Balances: f.snapshot()})
	return nil
}

func (f *SimulateAccountFeed) buy(ctx context.Context, notional decimal.Decimal) error {
	if !notional.IsPositive() {
		return errors.Errorf("buy notional must be positive, got %s", notional)
	}
	if notional.GreaterThan(f.wallet[f.pair.To]) {
		return errors.Errorf("insufficient %s balance", f.pair.To)
	}

	price, err := f.quotes.BestAsk(ctx)
	if err != nil {
		return errors.Wrap(err, "price for simulated buy")
	}
	if price.IsZero() {
		return errors.Wrap(domain.ErrNoMarketPrice, "simulated buy")
	}

	qty := domain.Quantize(notional.DivRound(price, domain.DivisionPrecision), f.precision.QuantityDecimals, domain.RoundDown)
	f.wallet[f.pair.To] = f.wallet[f.pair.To].Sub(notional)
	f.wallet[f.pair.From] = f.wallet[f.pair.From].Add(qty)
	return nil
}

func (f *SimulateAccountFeed) sell(ctx context.Context, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return errors.Errorf("sell quantity must be positive, got %s", qty)
	}
	if qty.GreaterThan(f.wallet[f.pair.From]) {
		return errors.Errorf("insufficient %s balance", f.pair.From)
	}

	price, err := f.quotes.BestBid(ctx)
	if err != nil {
		return errors.Wrap(err, "price for simulated sell")
	}
	if price.IsZero() {
		return errors.Wrap(domain.ErrNoMarketPrice, "simulated sell")
	}

	f.wallet[f.pair.From] = f.wallet[f.pair.From].Sub(qty)
	f.wallet[f.pair.To] = f.wallet[f.pair.To].Add(qty.Mul(price))
	return nil
}

func (f *SimulateAccountFeed) snapshot() map[string]decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(f.wallet))
	for k, v := range f.wallet {
		out[k] = v
	}
	return out
}
