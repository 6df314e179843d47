// Package app wires configuration, stores, feeds and workers into a running process.
package app

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigtrader/config"
	"github.com/vadiminshakov/sigtrader/internal/events"
	"github.com/vadiminshakov/sigtrader/internal/fxrate"
	"github.com/vadiminshakov/sigtrader/internal/ingress"
	"github.com/vadiminshakov/sigtrader/internal/logging"
	"github.com/vadiminshakov/sigtrader/internal/notify"
	"github.com/vadiminshakov/sigtrader/internal/orders"
	"github.com/vadiminshakov/sigtrader/internal/queue"
	"github.com/vadiminshakov/sigtrader/internal/storage/state"
	"github.com/vadiminshakov/sigtrader/internal/storage/tradememory"
	"github.com/vadiminshakov/sigtrader/internal/worker"
)

const (
	fiatCurrency  = "USD"
	updatesBuffer = 16
	notifyBuffer  = 64
)

// Runtime is built once at startup and holds everything the workers of this process share.
type Runtime struct {
	conf config.Config
	logs *logging.Factory

	redis *redis.Client
	root  string

	mu       sync.Mutex
	backends map[string]state.Backend
	queues   map[string]queue.Queue

	market         *state.MarketStore
	marketUpdates  *events.Broadcaster[events.MarketUpdate]
	accountUpdates *events.Broadcaster[events.AccountUpdate]

	asyncs   []*notify.Async
	journals []*orders.Journal
}

// NewRuntime connects the state backend selected by conf. Redis settings come from the environment.
func NewRuntime(ctx context.Context, conf config.Config, logs *logging.Factory) (*Runtime, error) {
	rt := &Runtime{
		conf:           conf,
		logs:           logs,
		backends:       make(map[string]state.Backend),
		queues:         make(map[string]queue.Queue),
		marketUpdates:  events.NewBroadcaster[events.MarketUpdate](updatesBuffer),
		accountUpdates: events.NewBroadcaster[events.AccountUpdate](updatesBuffer),
	}

	if conf.StateBackend == config.BackendRedis {
		redisCfg, err := state.LoadRedisConfig()
		if err != nil {
			return nil, err
		}
		client, err := state.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		rt.root = redisCfg.PrefixKey
	}

	rt.market = state.NewMarketStore(rt.backend(state.MarketNamespace(rt.root)), conf.Pair)
	return rt, nil
}

// Jobs creates the workers of the configured role.
func (rt *Runtime) Jobs() ([]Job, error) {
	var jobs []Job

	if rt.conf.Role == config.RoleAll || rt.conf.Role == config.RoleMarket {
		job, err := rt.marketJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if rt.conf.Role == config.RoleAll || rt.conf.Role == config.RoleIngress {
		job, err := rt.ingressJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	accounts := make(map[string]*state.AccountStore)
	for _, user := range rt.users() {
		job, account, err := rt.userJob(user)
		if err != nil {
			return nil, errors.Wrapf(err, "user %s", user)
		}
		accounts[user] = account
		jobs = append(jobs, job)
	}

	if rt.conf.Debug && rt.conf.Role != config.RoleIngress {
		l, err := rt.logs.Worker(worker.PrinterName)
		if err != nil {
			return nil, err
		}
		printer := worker.NewPrinter(rt.market, accounts, 0, rt.marketUpdates, rt.accountUpdates, l)
		jobs = append(jobs, Job{Runner: printer, Logger: l})
	}

	return jobs, nil
}

// Close flushes pending notifications and releases connections and journals.
func (rt *Runtime) Close(ctx context.Context) error {
	var first error
	for _, a := range rt.asyncs {
		if err := a.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	for _, j := range rt.journals {
		if err := j.Close(); err != nil && first == nil {
			first = err
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// users returns the users served by this process.
func (rt *Runtime) users() []string {
	switch rt.conf.Role {
	case config.RoleAll:
		return rt.conf.UserNames()
	case config.RoleUser:
		return []string{rt.conf.User}
	default:
		return nil
	}
}

func (rt *Runtime) marketJob() (Job, error) {
	l, err := rt.logs.Worker(worker.MarketWorkerName)
	if err != nil {
		return Job{}, err
	}

	client, err := newClient(rt.conf.MarketPlatform, config.Credentials{})
	if err != nil {
		return Job{}, err
	}
	provider, err := newFeedProvider(client, rt.conf.BalancePollInterval)
	if err != nil {
		return Job{}, err
	}
	feed, err := provider.MarketFeed(rt.conf.Pair, l)
	if err != nil {
		return Job{}, err
	}

	var rates worker.RateSource
	if rt.conf.ExchangeRateURL != "" {
		rates = fxrate.NewRefresher(rt.conf.ExchangeRateURL, fiatCurrency, rt.conf.FxPollInterval, l)
	} else {
		l.Warn("eur_usd_exchange_rate_url is empty, profit in fiat stays unavailable")
	}

	w := worker.NewMarketWorker(rt.market, feed, rt.conf.TakerFee, rates, rt.marketUpdates, l)
	return Job{Runner: w, Notifier: rt.notifier(worker.MarketWorkerName, rt.allUserKeys(), l), Logger: l}, nil
}

func (rt *Runtime) ingressJob() (Job, error) {
	l, err := rt.logs.Worker(ingress.Name)
	if err != nil {
		return Job{}, err
	}

	queues := make(map[string]queue.Queue, len(rt.conf.Users))
	for _, user := range rt.conf.UserNames() {
		queues[user] = rt.queue(user)
	}

	srv := ingress.NewServer(rt.conf.WebhookAddr, rt.conf.WebhookPin, queue.NewRegistry(queues), l)
	return Job{Runner: srv, Notifier: rt.notifier(ingress.Name, rt.allUserKeys(), l), Logger: l}, nil
}

func (rt *Runtime) userJob(user string) (Job, *state.AccountStore, error) {
	name := worker.UserWorkerName(user)
	l, err := rt.logs.Worker(name)
	if err != nil {
		return Job{}, nil, err
	}
	tx, err := rt.logs.Transactions(user)
	if err != nil {
		return Job{}, nil, err
	}

	account := state.NewAccountStore(rt.backend(state.AccountNamespace(rt.root, user)), rt.conf.Pair, rt.conf.FeeAsset)

	client, err := newClient(rt.conf.Platform, rt.conf.Users[user])
	if err != nil {
		return Job{}, nil, err
	}
	provider, err := newFeedProvider(client, rt.conf.BalancePollInterval)
	if err != nil {
		return Job{}, nil, err
	}
	feed, err := provider.AccountFeed(rt.conf.Pair, rt.market, l)
	if err != nil {
		return Job{}, nil, err
	}

	journal, err := orders.OpenJournal(rt.conf.StateDir, user)
	if err != nil {
		return Job{}, nil, err
	}
	rt.journals = append(rt.journals, journal)
	restored, err := journal.Orders()
	if err != nil {
		return Job{}, nil, errors.Wrap(err, "replay order journal")
	}

	memory, err := tradememory.NewStore(rt.conf.StateDir, user)
	if err != nil {
		return Job{}, nil, err
	}

	var keys []string
	if key, ok := rt.conf.PushoverUserKeys[user]; ok {
		keys = append(keys, key)
	}
	sink := rt.notifier(name, keys, l)

	w := worker.NewUserWorker(worker.UserConfig{
		User:         user,
		Pair:         rt.conf.Pair,
		FeeAsset:     rt.conf.FeeAsset,
		SubmitOrders: rt.conf.SubmitOrders,
	}, worker.UserDeps{
		Market:       rt.market,
		Account:      account,
		Queue:        rt.queue(user),
		Feed:         feed,
		Tracker:      orders.NewTracker(user, restored, journal),
		Memory:       memory,
		Notifier:     sink,
		Updates:      rt.accountUpdates,
		Logger:       l,
		Transactions: tx,
	})

	return Job{Runner: w, Notifier: sink, Logger: l}, account, nil
}

// backend returns the store backend of a namespace. Memory namespaces are separate maps.
func (rt *Runtime) backend(namespace string) state.Backend {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if b, ok := rt.backends[namespace]; ok {
		return b
	}
	var b state.Backend
	if rt.redis != nil {
		b = state.NewRedisBackend(rt.redis, namespace)
	} else {
		b = state.NewMemoryBackend()
	}
	rt.backends[namespace] = b
	return b
}

// queue returns the command queue of user, shared by the ingress and the user worker.
func (rt *Runtime) queue(user string) queue.Queue {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if q, ok := rt.queues[user]; ok {
		return q
	}
	var q queue.Queue
	if rt.redis != nil {
		q = queue.NewRedis(rt.redis, queue.Key(rt.root, user))
	} else {
		q = queue.NewMemory()
	}
	rt.queues[user] = q
	return q
}

func (rt *Runtime) allUserKeys() []string {
	var keys []string
	for _, user := range rt.conf.UserNames() {
		if key, ok := rt.conf.PushoverUserKeys[user]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// notifier sends to every key through a buffered Pushover sink, prefixed with the worker name.
func (rt *Runtime) notifier(name string, keys []string, l *zap.Logger) notify.Sink {
	if rt.conf.PushoverToken == "" || len(keys) == 0 {
		l.Warn("pushover is not configured, notifications are disabled")
		return notify.Nop{}
	}

	sinks := make(notify.Multi, 0, len(keys))
	for _, key := range keys {
		sinks = append(sinks, notify.NewPushover(rt.conf.PushoverToken, key))
	}

	async := notify.NewAsync(sinks, notifyBuffer, l)
	rt.asyncs = append(rt.asyncs, async)
	return notify.WithPrefix(async, name)
}
