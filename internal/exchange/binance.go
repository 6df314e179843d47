package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
	"go.uber.org/zap"
)

const defaultReconnectDelay = 5 * time.Second

// BinanceMarketFeed streams the book ticker of one symbol over the binance websocket.
type BinanceMarketFeed struct {
	pair           domain.Pair
	l              *zap.Logger
	events         chan Event
	reconnectDelay time.Duration
	closeOnce      sync.Once
	stop           chan struct{}
}

// NewBinanceMarketFeed creates a book ticker feed for pair.
func NewBinanceMarketFeed(pair domain.Pair, l *zap.Logger) *BinanceMarketFeed {
	if l == nil {
		l = zap.NewNop()
	}
	return &BinanceMarketFeed{
		pair:           pair,
		l:              l,
		events:         make(chan Event, eventBuffer),
		reconnectDelay: defaultReconnectDelay,
		stop:           make(chan struct{}),
	}
}

func (f *BinanceMarketFeed) Start(ctx context.Context) error {
	go f.run(ctx)
	return nil
}

func (f *BinanceMarketFeed) Events() <-chan Event {
	return f.events
}

func (f *BinanceMarketFeed) Close() error {
	f.closeOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *BinanceMarketFeed) run(ctx context.Context) {
	for {
		doneC, stopC, err := binance.WsBookTickerServe(f.pair.Symbol(), f.handleTicker, f.handleError)
		if err != nil {
			offerLatest(f.events, ErrorEvent{Op: "subscribe book ticker", Err: err})
		} else {
			f.l.Info("subscribed to book ticker", zap.String("symbol", f.pair.Symbol()))

			select {
			case <-ctx.Done():
				close(stopC)
				<-doneC
				return
			case <-f.stop:
				close(stopC)
				<-doneC
				return
			case <-doneC:
				f.l.Warn("book ticker stream closed, reconnecting", zap.Duration("delay", f.reconnectDelay))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *BinanceMarketFeed) handleTicker(event *binance.WsBookTickerEvent) {
	bid, err := decimal.NewFromString(event.BestBidPrice)
	if err != nil {
		f.handleError(errors.Wrapf(err, "parse best bid %q", event.BestBidPrice))
		return
	}
	ask, err := decimal.NewFromString(event.BestAskPrice)
	if err != nil {
		f.handleError(errors.Wrapf(err, "parse best ask %q", event.BestAskPrice))
		return
	}

	offerLatest(f.events, TickerEvent{Pair: f.pair, Bid: bid, Ask: ask})
}

func (f *BinanceMarketFeed) handleError(err error) {
	offerLatest(f.events, ErrorEvent{Op: "book ticker", Err: err})
}

// BinanceAccountFeed serves account requests over the binance REST API and polls balances.
type BinanceAccountFeed struct {
	client       *binance.Client
	pair         domain.Pair
	l            *zap.Logger
	events       chan Event
	pollInterval time.Duration
	wg           sync.WaitGroup
	closeOnce    sync.Once
	stop         chan struct{}
}

// NewBinanceAccountFeed creates an account feed. pollInterval <= 0 disables balance polling.
func NewBinanceAccountFeed(client *binance.Client, pair domain.Pair, pollInterval time.Duration, l *zap.Logger) *BinanceAccountFeed {
	if l == nil {
		l = zap.NewNop()
	}
	return &BinanceAccountFeed{
		client:       client,
		pair:         pair,
		l:            l,
		events:       make(chan Event, eventBuffer),
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
}

func (f *BinanceAccountFeed) Start(ctx context.Context) error {
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

func (f *BinanceAccountFeed) Events() <-chan Event {
	return f.events
}

func (f *BinanceAccountFeed) Close() error {
	f.closeOnce.Do(func() { close(f.stop) })
	f.wg.Wait()
	return nil
}

func (f *BinanceAccountFeed) RequestInstruments(ctx context.Context) error {
	f.async(ctx, f.fetchInstruments)
	return nil
}

func (f *BinanceAccountFeed) RequestBalances(ctx context.Context) error {
	f.async(ctx, f.fetchBalances)
	return nil
}

func (f *BinanceAccountFeed) SubmitOrder(ctx context.Context, clientOrderID string, intent domain.OrderIntent) error {
	svc := f.client.NewCreateOrderService().
		Symbol(intent.Pair.Symbol()).
		Type(binance.OrderTypeMarket).
		NewClientOrderID(clientOrderID)

	switch intent.Side {
	case domain.SideBuy:
		svc = svc.Side(binance.SideTypeBuy).QuoteOrderQty(intent.Notional.String())
	case domain.SideSell:
		svc = svc.Side(binance.SideTypeSell).Quantity(intent.Quantity.String())
	default:
		return errors.Errorf("unknown order side %d", intent.Side)
	}

	f.async(ctx, func(ctx context.Context) {
		res, err := svc.Do(ctx)
		if err != nil {
			deliver(ctx, f.events, OrderRejectedEvent{ClientOrderID: clientOrderID, Err: err})
			return
		}

		exchangeID := strconv.FormatInt(res.OrderID, 10)
		deliver(ctx, f.events, OrderAckEvent{ClientOrderID: res.ClientOrderID, ExchangeOrderID: exchangeID})
		deliver(ctx, f.events, OrderUpdateEvent{
			ClientOrderID:   res.ClientOrderID,
			ExchangeOrderID: exchangeID,
			Status:          string(res.Status),
		})
	})
	return nil
}

func (f *BinanceAccountFeed) async(ctx context.Context, fn func(ctx context.Context)) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		fn(ctx)
	}()
}

func (f *BinanceAccountFeed) fetchInstruments(ctx context.Context) {
	info, err := f.client.NewExchangeInfoService().Symbol(f.pair.Symbol()).Do(ctx)
	if err != nil {
		deliver(ctx, f.events, ErrorEvent{Op: "exchange info", Err: err})
		return
	}

	precisions := make(map[string]domain.Precision)
	for _, s := range info.Symbols {
		if s.Symbol != f.pair.Symbol() {
			continue
		}

		var p domain.Precision
		if pf := s.PriceFilter(); pf != nil {
			if p.PriceDecimals, err = decimalsOf(pf.TickSize); err != nil {
				deliver(ctx, f.events, ErrorEvent{Op: "exchange info", Err: errors.Wrap(err, "tick size")})
				return
			}
		}
		if lf := s.LotSizeFilter(); lf != nil {
			if p.QuantityDecimals, err = decimalsOf(lf.StepSize); err != nil {
				deliver(ctx, f.events, ErrorEvent{Op: "exchange info", Err: errors.Wrap(err, "step size")})
				return
			}
		}
		precisions[f.pair.String()] = p
	}

	deliver(ctx, f.events, InstrumentsEvent{Precisions: precisions})
}

func (f *BinanceAccountFeed) fetchBalances(ctx context.Context) {
	account, err := f.client.NewGetAccountService().Do(ctx)
	if err != nil {
		deliver(ctx, f.events, ErrorEvent{Op: "account balances", Err: err})
		return
	}

	balances := make(map[string]decimal.Decimal, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			f.l.Warn("skip unparsable balance", zap.String("asset", b.Asset), zap.Error(err))
			continue
		}
		balances[b.Asset] = free
	}

	deliver(ctx, f.events, BalancesEvent{Balances: balances})
}
