package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigtrader/internal/events"
	"github.com/vadiminshakov/sigtrader/internal/exchange"
	"github.com/vadiminshakov/sigtrader/internal/storage/state"
)

// MarketWorkerName is the name of the only market data worker.
const MarketWorkerName = "market_data_worker"

// RateSource delivers fiat exchange rates.
type RateSource interface {
	Run(ctx context.Context) error
	Updates() <-chan decimal.Decimal
}

// MarketWorker writes exchange market data into the market state store.
// It is the only writer of that store.
type MarketWorker struct {
	store    *state.MarketStore
	feed     exchange.MarketFeed
	takerFee decimal.Decimal
	rates    RateSource
	updates  *events.Broadcaster[events.MarketUpdate]
	l        *zap.Logger
}

// NewMarketWorker creates a market worker. rates and updates may be nil.
func NewMarketWorker(
	store *state.MarketStore,
	feed exchange.MarketFeed,
	takerFee decimal.Decimal,
	rates RateSource,
	updates *events.Broadcaster[events.MarketUpdate],
	l *zap.Logger,
) *MarketWorker {
	if l == nil {
		l = zap.NewNop()
	}
	return &MarketWorker{
		store:    store,
		feed:     feed,
		takerFee: takerFee,
		rates:    rates,
		updates:  updates,
		l:        l,
	}
}

func (w *MarketWorker) Name() string {
	return MarketWorkerName
}

// Run stores the configured taker fee, then writes every ticker and rate update until ctx is done.
func (w *MarketWorker) Run(ctx context.Context) error {
	if err := w.store.SetTakerFee(ctx, w.takerFee); err != nil {
		return errors.Wrap(err, "store taker fee")
	}
	w.publish(events.MarketUpdate{TakerFee: w.takerFee.String()})

	if err := w.feed.Start(ctx); err != nil {
		return errors.Wrap(err, "start market feed")
	}
	defer func() {
		if err := w.feed.Close(); err != nil {
			w.l.Warn("failed to close market feed", zap.Error(err))
		}
	}()

	var rateUpdates <-chan decimal.Decimal
	if w.rates != nil {
		ratesCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		rateUpdates = w.rates.Updates()
		go func() {
			if err := w.rates.Run(ratesCtx); err != nil && !errors.Is(err, context.Canceled) {
				w.l.Warn("exchange rate refresher stopped", zap.Error(err))
			}
		}()
	}

	w.l.Info("starting market data loop", zap.String("pair", w.store.Pair().String()))

	for {
		select {
		case <-ctx.Done():
			w.l.Info("context done, stopping market data loop")
			return ctx.Err()
		case ev, ok := <-w.feed.Events():
			if !ok {
				return errors.New("market feed closed")
			}
			w.handleEvent(ctx, ev)
		case rate := <-rateUpdates:
			if err := w.store.SetExchangeRate(ctx, rate); err != nil {
				w.l.Error("failed to store exchange rate", zap.Error(err))
				continue
			}
			w.publish(events.MarketUpdate{ExchangeRate: rate.String()})
		}
	}
}

func (w *MarketWorker) handleEvent(ctx context.Context, ev exchange.Event) {
	switch e := ev.(type) {
	case exchange.TickerEvent:
		if e.Pair != w.store.Pair() {
			w.l.Debug("ignoring ticker of another pair", zap.String("pair", e.Pair.String()))
			return
		}
		if err := w.store.SetBestBid(ctx, e.Bid); err != nil {
			w.l.Error("failed to store best bid", zap.Error(err))
			return
		}
		if err := w.store.SetBestAsk(ctx, e.Ask); err != nil {
			w.l.Error("failed to store best ask", zap.Error(err))
			return
		}
		w.publish(events.MarketUpdate{Bid: e.Bid.String(), Ask: e.Ask.String()})
	case exchange.ErrorEvent:
		w.l.Warn("market feed error", zap.String("op", e.Op), zap.Error(e.Err))
	default:
		w.l.Debug("ignoring market feed event", zap.String("event", exchange.Name(ev)))
	}
}

func (w *MarketWorker) publish(u events.MarketUpdate) {
	u.Timestamp = time.Now().UTC()
	u.Pair = w.store.Pair().String()
	w.updates.Publish(u)
}
