package worker

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/sigtrader/internal/events"
	"github.com/vadiminshakov/sigtrader/internal/storage/state"
)

// PrinterName is the name of the debug state printer.
const PrinterName = "state_printer"

// Printer logs the shared state at a fixed interval, plus every update published by the workers.
// It only reads.
type Printer struct {
	market         *state.MarketStore
	accounts       map[string]*state.AccountStore
	interval       time.Duration
	marketUpdates  *events.Broadcaster[events.MarketUpdate]
	accountUpdates *events.Broadcaster[events.AccountUpdate]
	l              *zap.Logger
}

// NewPrinter creates a state printer. The broadcasters may be nil.
func NewPrinter(
	market *state.MarketStore,
	accounts map[string]*state.AccountStore,
	interval time.Duration,
	marketUpdates *events.Broadcaster[events.MarketUpdate],
	accountUpdates *events.Broadcaster[events.AccountUpdate],
	l *zap.Logger,
) *Printer {
	if l == nil {
		l = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Printer{
		market:         market,
		accounts:       accounts,
		interval:       interval,
		marketUpdates:  marketUpdates,
		accountUpdates: accountUpdates,
		l:              l,
	}
}

func (p *Printer) Name() string {
	return PrinterName
}

func (p *Printer) Run(ctx context.Context) error {
	var (
		marketCh  chan events.MarketUpdate
		accountCh chan events.AccountUpdate
	)
	if p.marketUpdates != nil {
		marketCh = p.marketUpdates.Subscribe()
		defer p.marketUpdates.Unsubscribe(marketCh)
	}
	if p.accountUpdates != nil {
		accountCh = p.accountUpdates.Subscribe()
		defer p.accountUpdates.Unsubscribe(accountCh)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-marketCh:
			p.l.Debug("market update", zap.Any("update", u))
		case u := <-accountCh:
			p.l.Debug("account update", zap.Any("update", u))
		case <-ticker.C:
			p.Print(ctx)
		}
	}
}

// Print logs one snapshot of every store.
func (p *Printer) Print(ctx context.Context) {
	if p.market != nil {
		snap, err := p.market.Snapshot(ctx)
		if err != nil {
			p.l.Warn("failed to read market state", zap.Error(err))
		} else {
			p.l.Info("market state",
				zap.String("pair", p.market.Pair().String()),
				zap.String("taker_fee", snap.TakerFee.String()),
				zap.String("best_bid", snap.BestBid.String()),
				zap.String("best_ask", snap.BestAsk.String()),
				zap.String("exchange_rate", snap.FiatExchangeRate.String()))
		}
	}

	users := make([]string, 0, len(p.accounts))
	for user := range p.accounts {
		users = append(users, user)
	}
	sort.Strings(users)

	for _, user := range users {
		snap, err := p.accounts[user].Snapshot(ctx)
		if err != nil {
			p.l.Warn("failed to read account state", zap.String("user", user), zap.Error(err))
			continue
		}
		balances := make(map[string]string, len(snap.Balances))
		for asset, amount := range snap.Balances {
			balances[asset] = amount.String()
		}
		p.l.Info("account state",
			zap.String("user", user),
			zap.Any("balances", balances),
			zap.Any("tickers", snap.Tickers),
			zap.Any("last_buy", snap.LastBuy),
			zap.Any("last_sell", snap.LastSell))
	}
}
