package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigtrader/internal/domain"
	"github.com/vadiminshakov/sigtrader/internal/events"
	"github.com/vadiminshakov/sigtrader/internal/exchange"
	"github.com/vadiminshakov/sigtrader/internal/notify"
	"github.com/vadiminshakov/sigtrader/internal/orders"
	"github.com/vadiminshakov/sigtrader/internal/queue"
	"github.com/vadiminshakov/sigtrader/internal/sizing"
	"github.com/vadiminshakov/sigtrader/internal/storage/state"
	"github.com/vadiminshakov/sigtrader/internal/storage/tradememory"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultCooldown       = time.Second
	defaultBootstrapRetry = 10 * time.Second
	maxEventsPerTurn      = 64
	userWorkerNamePrefix  = "user_worker_"
)

// UserWorkerName returns the worker name of user.
func UserWorkerName(user string) string {
	return userWorkerNamePrefix + user
}

// UserConfig per-user worker settings.
type UserConfig struct {
	User     string
	Pair     domain.Pair
	FeeAsset string
	// SubmitOrders sends the sized order to the exchange. Off means commands are only sized and logged.
	SubmitOrders bool
	// PollInterval how often the loop wakes up without any input.
	PollInterval time.Duration
	// Cooldown pause after a failed command.
	Cooldown time.Duration
	// BootstrapRetry how long to wait for instrument and balance responses before asking again.
	BootstrapRetry time.Duration
}

// UserDeps collaborators of a user worker. Memory, Updates and Transactions may be nil.
type UserDeps struct {
	Market       *state.MarketStore
	Account      *state.AccountStore
	Queue        queue.Queue
	Feed         exchange.AccountFeed
	Tracker      *orders.Tracker
	Memory       *tradememory.Store
	Notifier     notify.Sink
	Updates      *events.Broadcaster[events.AccountUpdate]
	Logger       *zap.Logger
	Transactions *zap.Logger
}

// UserWorker consumes the command queue of one user. Every loop turn first services all buffered
// exchange events, then processes at most one command.
type UserWorker struct {
	cfg      UserConfig
	market   *state.MarketStore
	account  *state.AccountStore
	queue    queue.Queue
	feed     exchange.AccountFeed
	engine   *sizing.Engine
	tracker  *orders.Tracker
	memory   *tradememory.Store
	notifier notify.Sink
	updates  *events.Broadcaster[events.AccountUpdate]
	l        *zap.Logger
	tx       *zap.Logger

	instrumentsReady bool
	balancesReady    bool
	lastBootstrap    time.Time
	cooldownUntil    time.Time
	now              func() time.Time
}

// NewUserWorker creates a worker for cfg.User.
func NewUserWorker(cfg UserConfig, deps UserDeps) *UserWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.BootstrapRetry <= 0 {
		cfg.BootstrapRetry = defaultBootstrapRetry
	}

	l := deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	tx := deps.Transactions
	if tx == nil {
		tx = l
	}
	sink := deps.Notifier
	if sink == nil {
		sink = notify.Nop{}
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = orders.NewTracker(cfg.User, nil, nil)
	}

	return &UserWorker{
		cfg:      cfg,
		market:   deps.Market,
		account:  deps.Account,
		queue:    deps.Queue,
		feed:     deps.Feed,
		engine:   sizing.NewEngine(cfg.Pair, cfg.FeeAsset),
		tracker:  tracker,
		memory:   deps.Memory,
		notifier: sink,
		updates:  deps.Updates,
		l:        l.With(zap.String("user", cfg.User)),
		tx:       tx.With(zap.String("user", cfg.User)),
		now:      time.Now,
	}
}

func (w *UserWorker) Name() string {
	return UserWorkerName(w.cfg.User)
}

// Initialized reports whether instrument precision and balances were received.
func (w *UserWorker) Initialized() bool {
	return w.instrumentsReady && w.balancesReady
}

// Run bootstraps the account and then loops until ctx is done or a fatal error occurs.
func (w *UserWorker) Run(ctx context.Context) error {
	if err := w.account.Init(ctx); err != nil {
		return errors.Wrap(err, "init account state")
	}
	if err := w.restoreLastTrades(ctx); err != nil {
		w.l.Warn("failed to restore last trades", zap.Error(err))
	}

	if err := w.feed.Start(ctx); err != nil {
		return errors.Wrap(err, "start account feed")
	}
	defer func() {
		if err := w.feed.Close(); err != nil {
			w.l.Warn("failed to close account feed", zap.Error(err))
		}
	}()

	w.bootstrap(ctx)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.l.Info("starting user loop",
		zap.String("pair", w.cfg.Pair.String()),
		zap.Bool("submit_orders", w.cfg.SubmitOrders),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			w.l.Info("context done, stopping user loop")
			return ctx.Err()
		case ev, ok := <-w.feed.Events():
			if !ok {
				return errors.New("account feed closed")
			}
			if err := w.handleEvent(ctx, ev); err != nil {
				return err
			}
		case <-w.queue.Ready():
		case <-ticker.C:
			if !w.Initialized() && w.now().Sub(w.lastBootstrap) >= w.cfg.BootstrapRetry {
				w.bootstrap(ctx)
			}
		}

		if err := w.Turn(ctx); err != nil {
			return err
		}
	}
}

// Turn services every buffered feed event, then processes at most one command.
// Only fatal errors are returned.
func (w *UserWorker) Turn(ctx context.Context) error {
	for i := 0; i < maxEventsPerTurn; i++ {
		select {
		case ev, ok := <-w.feed.Events():
			if !ok {
				return errors.New("account feed closed")
			}
			if err := w.handleEvent(ctx, ev); err != nil {
				return err
			}
			continue
		default:
		}
		break
	}

	if !w.Initialized() || w.now().Before(w.cooldownUntil) {
		return nil
	}

	failed, err := w.processNext(ctx)
	if err != nil {
		return err
	}
	if failed {
		w.cooldownUntil = w.now().Add(w.cfg.Cooldown)
	}
	return nil
}

func (w *UserWorker) bootstrap(ctx context.Context) {
	w.lastBootstrap = w.now()
	if !w.instrumentsReady {
		if err := w.feed.RequestInstruments(ctx); err != nil {
			w.l.Warn("instrument request failed", zap.Error(err))
		}
	}
	if !w.balancesReady {
		if err := w.feed.RequestBalances(ctx); err != nil {
			w.l.Warn("balance request failed", zap.Error(err))
		}
	}
}

func (w *UserWorker) handleEvent(ctx context.Context, ev exchange.Event) error {
	err := guard(func() error {
		switch e := ev.(type) {
		case exchange.InstrumentsEvent:
			return w.onInstruments(ctx, e)
		case exchange.BalancesEvent:
			return w.onBalances(ctx, e)
		case exchange.OrderAckEvent:
			w.onOrderAck(ctx, e)
		case exchange.OrderUpdateEvent:
			w.onOrderUpdate(e)
		case exchange.OrderRejectedEvent:
			w.onOrderRejected(ctx, e)
		case exchange.ErrorEvent:
			w.l.Warn("account feed error", zap.String("op", e.Op), zap.Error(e.Err))
		default:
			w.l.Debug("ignoring account feed event", zap.String("event", exchange.Name(ev)))
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrPrecisionNotInitialized) {
		return err
	}

	w.l.Error("failed to handle exchange event", zap.String("event", exchange.Name(ev)), zap.Error(err))
	w.alert(ctx, fmt.Sprintf("Failed to handle %s: %v", exchange.Name(ev), err))
	return nil
}

func (w *UserWorker) onInstruments(ctx context.Context, e exchange.InstrumentsEvent) error {
	instrument := w.cfg.Pair.String()
	if p, ok := e.Precisions[instrument]; ok {
		if err := w.account.UpdatePrecision(ctx, instrument, p); err != nil {
			return errors.Wrap(err, "update precision")
		}
	}

	tickers, err := w.account.Tickers(ctx)
	if err != nil {
		return errors.Wrap(err, "read tickers")
	}
	p := tickers[instrument]
	if !p.Initialized() {
		return errors.Wrapf(domain.ErrPrecisionNotInitialized,
			"exchange reported no precision for %s, check the configured pair", instrument)
	}

	w.instrumentsReady = true
	w.l.Info("instrument precision loaded",
		zap.String("instrument", instrument),
		zap.Int32("price_decimals", p.PriceDecimals),
		zap.Int32("quantity_decimals", p.QuantityDecimals))
	return nil
}

func (w *UserWorker) onBalances(ctx context.Context, e exchange.BalancesEvent) error {
	written := make(map[string]string)
	for asset, amount := range e.Balances {
		if !w.account.Tracks(asset) {
			continue
		}
		if err := w.account.SetBalance(ctx, asset, amount); err != nil {
			return errors.Wrapf(err, "store balance of %s", asset)
		}
		written[asset] = amount.String()
	}

	if !w.balancesReady {
		w.l.Info("balances loaded", zap.Any("balances", written))
	} else {
		w.l.Debug("balances updated", zap.Any("balances", written))
	}
	w.balancesReady = true

	w.updates.Publish(events.AccountUpdate{
		Timestamp: w.now().UTC(),
		User:      w.cfg.User,
		Reason:    "balances",
		Balances:  written,
	})
	return nil
}

func (w *UserWorker) onOrderAck(ctx context.Context, e exchange.OrderAckEvent) {
	order, err := w.tracker.Acknowledge(e.ClientOrderID, e.ExchangeOrderID)
	if err != nil {
		if errors.Is(err, orders.ErrProtocolViolation) {
			w.l.Error("order acknowledgment without matching request",
				zap.Bool("invariant_violation", true),
				zap.String("client_order_id", e.ClientOrderID),
				zap.String("exchange_order_id", e.ExchangeOrderID),
				zap.Error(err))
			w.alert(ctx, fmt.Sprintf("Unknown order acknowledged: %s", e.ClientOrderID))
			return
		}
		w.l.Error("failed to acknowledge order", zap.String("client_order_id", e.ClientOrderID), zap.Error(err))
		return
	}

	w.l.Info("order acknowledged",
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("exchange_order_id", order.ExchangeOrderID))
}

func (w *UserWorker) onOrderRejected(ctx context.Context, e exchange.OrderRejectedEvent) {
	if _, err := w.tracker.Reject(e.ClientOrderID); err != nil {
		w.l.Error("failed to mark order rejected", zap.String("client_order_id", e.ClientOrderID), zap.Error(err))
	}
	w.l.Error("order rejected by exchange", zap.String("client_order_id", e.ClientOrderID), zap.Error(e.Err))
	w.alert(ctx, fmt.Sprintf("Order %s rejected: %v", e.ClientOrderID, e.Err))
}

func (w *UserWorker) onOrderUpdate(e exchange.OrderUpdateEvent) {
	if _, ok := w.tracker.Get(e.ClientOrderID); !ok {
		w.l.Warn("update for untracked order",
			zap.String("client_order_id", e.ClientOrderID),
			zap.String("status", e.Status))
		return
	}
	w.l.Info("order update",
		zap.String("client_order_id", e.ClientOrderID),
		zap.String("exchange_order_id", e.ExchangeOrderID),
		zap.String("status", e.Status))
}

// processNext takes one message off the queue and reports whether it failed. Message and command
// failures are alerted and the message is dropped, only fatal errors are returned.
func (w *UserWorker) processNext(ctx context.Context) (bool, error) {
	msg, ok, err := w.queue.TryDequeue(ctx)
	if err != nil {
		w.l.Warn("failed to read command queue", zap.Error(err))
		return false, nil
	}
	if !ok {
		return false, nil
	}

	cmd, err := domain.ParseCommand(msg)
	if err != nil {
		w.l.Error("dropping malformed command", zap.ByteString("message", msg), zap.Error(err))
		w.alert(ctx, fmt.Sprintf("Malformed command dropped: %s", msg))
		return true, nil
	}

	err = guard(func() error { return w.execute(ctx, cmd) })
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return true, err
		}
		w.l.Error("command failed", zap.String("command", cmd.String()), zap.Error(err))
		w.alert(ctx, fmt.Sprintf("Command %s failed: %v", cmd.String(), err))
		return true, nil
	}
	return false, nil
}

func (w *UserWorker) execute(ctx context.Context, cmd domain.Command) error {
	market, err := w.market.Snapshot(ctx)
	if err != nil {
		return errors.Wrap(err, "read market state")
	}
	account, err := w.account.Snapshot(ctx)
	if err != nil {
		return errors.Wrap(err, "read account state")
	}

	res, err := w.engine.Size(market, account, cmd)
	if err != nil {
		return errors.Wrap(err, "size order")
	}

	w.tx.Info(res.Narrative,
		zap.String("command_id", cmd.ID),
		zap.String("side", res.Side.String()),
		zap.String("request_price", res.RequestPrice.StringFixed(2)),
		zap.String("fiat", res.Fiat),
		zap.String("exchange_price", res.ExchangePrice.StringFixed(2)),
		zap.String("order_price", res.OrderPrice.String()),
		zap.String("balance", res.Balance.String()),
		zap.String("taker_fee", res.TakerFee.String()),
		zap.String("fee", res.Fee.String()),
		zap.String("fee_asset", res.FeeAsset),
		zap.String("fee_asset_balance", res.FeeAssetBalance.String()),
		zap.String("intent", res.Intent.String()))
	_ = w.notifier.Notify(ctx, res.Narrative, notify.PriorityEmergency)

	if err := w.account.SetLastTrade(ctx, res.Side, res.LastTrade); err != nil {
		return errors.Wrap(err, "store last trade")
	}
	if err := w.saveLastTrades(ctx); err != nil {
		w.l.Warn("failed to persist last trades", zap.Error(err))
	}

	if !w.cfg.SubmitOrders {
		return nil
	}
	return w.submit(ctx, res.Intent)
}

func (w *UserWorker) submit(ctx context.Context, intent domain.OrderIntent) error {
	amount := intent.Notional
	if intent.Side == domain.SideSell {
		amount = intent.Quantity
	}
	if !amount.IsPositive() {
		w.l.Info("nothing to trade, order not submitted", zap.String("intent", intent.String()))
		return nil
	}

	id := w.tracker.NextID(intent.Side, intent.Pair)
	if _, err := w.tracker.Register(id); err != nil {
		return errors.Wrap(err, "register order")
	}
	if err := w.feed.SubmitOrder(ctx, id, intent); err != nil {
		return errors.Wrapf(err, "submit order %s", id)
	}

	w.l.Info("order submitted", zap.String("client_order_id", id), zap.String("intent", intent.String()))
	return nil
}

func (w *UserWorker) restoreLastTrades(ctx context.Context) error {
	if w.memory == nil {
		return nil
	}
	saved, err := w.memory.Load()
	if err != nil {
		return err
	}
	if saved == nil || saved.Pair != w.cfg.Pair.String() {
		return nil
	}

	restore := func(side domain.Side, stored *tradememory.StoredPrices) error {
		if stored == nil {
			return nil
		}
		current, err := w.account.LastTrade(ctx, side)
		if err != nil || current != nil {
			return err
		}
		prices, err := stored.ToTradePrices()
		if err != nil {
			return err
		}
		return w.account.SetLastTrade(ctx, side, *prices)
	}

	if err := restore(domain.SideBuy, saved.LastBuy); err != nil {
		return errors.Wrap(err, "restore last buy")
	}
	if err := restore(domain.SideSell, saved.LastSell); err != nil {
		return errors.Wrap(err, "restore last sell")
	}
	w.l.Info("last trades restored")
	return nil
}

func (w *UserWorker) saveLastTrades(ctx context.Context) error {
	if w.memory == nil {
		return nil
	}
	lastBuy, err := w.account.LastTrade(ctx, domain.SideBuy)
	if err != nil {
		return err
	}
	lastSell, err := w.account.LastTrade(ctx, domain.SideSell)
	if err != nil {
		return err
	}
	return w.memory.Save(tradememory.State{
		Pair:     w.cfg.Pair.String(),
		LastBuy:  tradememory.NewStoredPrices(lastBuy),
		LastSell: tradememory.NewStoredPrices(lastSell),
	})
}

func (w *UserWorker) alert(ctx context.Context, message string) {
	_ = w.notifier.Notify(ctx, message, notify.PriorityEmergency)
}
