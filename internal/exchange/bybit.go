package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
	"go.uber.org/zap"
)

// BybitMarketFeed polls the bybit V5 spot ticker.
type BybitMarketFeed struct {
	client       *bybit.Client
	pair         domain.Pair
	l            *zap.Logger
	events       chan Event
	pollInterval time.Duration
	wg           sync.WaitGroup
	closeOnce    sync.Once
	stop         chan struct{}
}

// NewBybitMarketFeed creates a polling ticker feed.
func NewBybitMarketFeed(client *bybit.Client, pair domain.Pair, pollInterval time.Duration, l *zap.Logger) *BybitMarketFeed {
	if l == nil {
		l = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &BybitMarketFeed{
		client:       client,
		pair:         pair,
		l:            l,
		events:       make(chan Event, eventBuffer),
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
}

func (f *BybitMarketFeed) Start(ctx context.Context) error {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()

		for {
			f.poll()

			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (f *BybitMarketFeed) Events() <-chan Event {
	return f.events
}

func (f *BybitMarketFeed) Close() error {
	f.closeOnce.Do(func() { close(f.stop) })
	f.wg.Wait()
	return nil
}

func (f *BybitMarketFeed) poll() {
	ev, err := f.fetch()
	if err != nil {
		offerLatest(f.events, ErrorEvent{Op: "bybit tickers", Err: err})
		return
	}
	offerLatest(f.events, ev)
}

func (f *BybitMarketFeed) fetch() (TickerEvent, error) {
	symbol := bybit.SymbolV5(f.pair.Symbol())

	result, err := f.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return TickerEvent{}, err
	}

	if result.Result.Spot == nil || len(result.Result.Spot.List) == 0 {
		return TickerEvent{}, errors.Errorf("bybit API returned empty tickers for %s", f.pair.String())
	}

	item := result.Result.Spot.List[0]
	bid, err := decimal.NewFromString(item.Bid1Price)
	if err != nil {
		return TickerEvent{}, errors.Wrapf(err, "parse bid %q", item.Bid1Price)
	}
	ask, err := decimal.NewFromString(item.Ask1Price)
	if err != nil {
		return TickerEvent{}, errors.Wrapf(err, "parse ask %q", item.Ask1Price)
	}

	return TickerEvent{Pair: f.pair, Bid: bid, Ask: ask}, nil
}

// BybitAccountFeed serves account requests over the bybit V5 REST API and polls balances
// of the unified account.
type BybitAccountFeed struct {
	client       *bybit.Client
	pair         domain.Pair
	l            *zap.Logger
	events       chan Event
	pollInterval time.Duration
	wg           sync.WaitGroup
	closeOnce    sync.Once
	stop         chan struct{}
}

// NewBybitAccountFeed creates an account feed. pollInterval <= 0 disables balance polling.
func NewBybitAccountFeed(client *bybit.Client, pair domain.Pair, pollInterval time.Duration, l *zap.Logger) *BybitAccountFeed {
	if l == nil {
		l = zap.NewNop()
	}
	return &BybitAccountFeed{
		client:       client,
		pair:         pair,
		l:            l,
		events:       make(chan Event, eventBuffer),
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
}

func (f *BybitAccountFeed) Start(ctx context.Context) error {
	if f.pollInterval <= 0 {
		return nil
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case <-ticker.C:
				f.fetchBalances(ctx)
			}
		}
	}()
	return nil
}

func (f *BybitAccountFeed) Events() <-chan Event {
	return f.events
}

func (f *BybitAccountFeed) Close() error {
	f.closeOnce.Do(func() { close(f.stop) })
	f.wg.Wait()
	return nil
}

func (f *BybitAccountFeed) RequestInstruments(ctx context.Context) error {
	f.async(ctx, f.fetchInstruments)
	return nil
}

func (f *BybitAccountFeed) RequestBalances(ctx context.Context) error {
	f.async(ctx, f.fetchBalances)
	return nil
}

// SubmitOrder places a spot market order. Bybit reads the quantity of a market buy in the quote coin.
func (f *BybitAccountFeed) SubmitOrder(ctx context.Context, clientOrderID string, intent domain.OrderIntent) error {
	param := bybit.V5CreateOrderParam{
		Category:    "spot",
		Symbol:      bybit.SymbolV5(intent.Pair.Symbol()),
		OrderType:   bybit.OrderTypeMarket,
		OrderLinkID: &clientOrderID,
	}

	switch intent.Side {
	case domain.SideBuy:
		param.Side = bybit.SideBuy
		param.Qty = intent.Notional.String()
	case domain.SideSell:
		param.Side = bybit.SideSell
		param.Qty = intent.Quantity.String()
	default:
		return errors.Errorf("unknown order side %d", intent.Side)
	}

	f.async(ctx, func(ctx context.Context) {
		res, err := f.client.V5().Order().CreateOrder(param)
		if err != nil {
			deliver(ctx, f.events, OrderRejectedEvent{ClientOrderID: clientOrderID, Err: err})
			return
		}

		deliver(ctx, f.events, OrderAckEvent{ClientOrderID: res.Result.OrderLinkID, ExchangeOrderID: res.Result.OrderID})
		deliver(ctx, f.events, OrderUpdateEvent{
			ClientOrderID:   res.Result.OrderLinkID,
			ExchangeOrderID: res.Result.OrderID,
			Status:          "Created",
		})
	})
	return nil
}

func (f *BybitAccountFeed) async(ctx context.Context, fn func(ctx context.Context)) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		fn(ctx)
	}()
}

func (f *BybitAccountFeed) fetchInstruments(ctx context.Context) {
	symbol := bybit.SymbolV5(f.pair.Symbol())
	res, err := f.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		deliver(ctx, f.events, ErrorEvent{Op: "instruments info", Err: err})
		return
	}

	precisions := make(map[string]domain.Precision)
	if res.Result.Spot != nil {
		for _, item := range res.Result.Spot.List {
			if item.Symbol != symbol {
				continue
			}

			var p domain.Precision
			if p.PriceDecimals, err = decimalsOf(item.PriceFilter.TickSize); err != nil {
				deliver(ctx, f.events, ErrorEvent{Op: "instruments info", Err: errors.Wrap(err, "tick size")})
				return
			}
			if p.QuantityDecimals, err = decimalsOf(item.LotSizeFilter.BasePrecision); err != nil {
				deliver(ctx, f.events, ErrorEvent{Op: "instruments info", Err: errors.Wrap(err, "base precision")})
				return
			}
			precisions[f.pair.String()] = p
		}
	}

	deliver(ctx, f.events, InstrumentsEvent{Precisions: precisions})
}

func (f *BybitAccountFeed) fetchBalances(ctx context.Context) {
	res, err := f.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		deliver(ctx, f.events, ErrorEvent{Op: "wallet balance", Err: err})
		return
	}

	balances := make(map[string]decimal.Decimal)
	for _, account := range res.Result.List {
		for _, coin := range account.Coin {
			amount, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				f.l.Warn("skip unparsable balance", zap.String("asset", string(coin.Coin)), zap.Error(err))
				continue
			}
			balances[string(coin.Coin)] = amount
		}
	}

	deliver(ctx, f.events, BalancesEvent{Balances: balances})
}
