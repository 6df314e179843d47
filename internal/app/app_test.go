package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/sigtrader/config"
	"github.com/vadiminshakov/sigtrader/internal/domain"
	"github.com/vadiminshakov/sigtrader/internal/logging"
	"github.com/vadiminshakov/sigtrader/internal/notify"
	"github.com/vadiminshakov/sigtrader/internal/worker"
)

type funcRunner struct {
	name string
	run  func(ctx context.Context) error
}

func (r funcRunner) Name() string                  { return r.name }
func (r funcRunner) Run(ctx context.Context) error { return r.run(ctx) }

func testConfig(t *testing.T, role string) config.Config {
	t.Helper()
	return config.Config{
		Role:                role,
		User:                "alice",
		Debug:               true,
		Users:               map[string]config.Credentials{"alice": {}, "bob": {}},
		Pair:                domain.Pair{From: "BTC", To: "USDT"},
		TakerFee:            decimal.RequireFromString("0.001"),
		FeeAsset:            "BNB",
		WebhookAddr:         "127.0.0.1:0",
		WebhookPin:          "1234",
		Platform:            config.PlatformSimulate,
		MarketPlatform:      config.PlatformBinance,
		StateBackend:        config.BackendMemory,
		LogDir:              t.TempDir(),
		StateDir:            t.TempDir(),
		CrashExitCode:       3,
		FxPollInterval:      time.Second,
		BalancePollInterval: time.Second,
	}
}

func newTestRuntime(t *testing.T, conf config.Config) *Runtime {
	t.Helper()
	logs, err := logging.NewFactory(conf.LogDir, conf.Debug)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })

	rt, err := NewRuntime(context.Background(), conf, logs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func jobNames(jobs []Job) []string {
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Runner.Name())
	}
	return names
}

func TestRuntime_JobsPerRole(t *testing.T) {
	tests := []struct {
		role string
		want []string
	}{
		{
			role: config.RoleAll,
			want: []string{"market_data_worker", "signal_ingress", "user_worker_alice", "user_worker_bob", "state_printer"},
		},
		{role: config.RoleMarket, want: []string{"market_data_worker", "state_printer"}},
		{role: config.RoleUser, want: []string{"user_worker_alice", "state_printer"}},
		{role: config.RoleIngress, want: []string{"signal_ingress"}},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			rt := newTestRuntime(t, testConfig(t, tt.role))
			jobs, err := rt.Jobs()
			require.NoError(t, err)
			assert.Equal(t, tt.want, jobNames(jobs))
			for _, j := range jobs {
				assert.NotNil(t, j.Logger)
			}
		})
	}
}

func TestRuntime_SharedQueuesAndSeparateNamespaces(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t, config.RoleAll))

	assert.Same(t, rt.queue("alice"), rt.queue("alice"))
	assert.NotSame(t, rt.queue("alice"), rt.queue("bob"))
	assert.NotSame(t, rt.backend("account:alice:"), rt.backend("account:bob:"))

	ctx := context.Background()
	require.NoError(t, rt.queue("alice").Enqueue(ctx, []byte("x")))
	msg, ok, err := rt.queue("alice").TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", string(msg))
}

func TestRuntime_NotifierWithoutPushover(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t, config.RoleAll))
	jobs, err := rt.Jobs()
	require.NoError(t, err)

	for _, j := range jobs {
		if j.Runner.Name() == worker.PrinterName {
			assert.Nil(t, j.Notifier)
			continue
		}
		assert.Equal(t, notify.Nop{}, j.Notifier)
	}
}

func TestRuntime_NotifierPrefixesWorker(t *testing.T) {
	conf := testConfig(t, config.RoleAll)
	conf.PushoverToken = "token"
	conf.PushoverUserKeys = map[string]string{"alice": "ka", "bob": "kb"}
	rt := newTestRuntime(t, conf)

	jobs, err := rt.Jobs()
	require.NoError(t, err)
	for _, j := range jobs {
		if j.Runner.Name() == worker.PrinterName {
			continue
		}
		assert.IsType(t, &notify.Prefixed{}, j.Notifier)
	}
	// market, ingress, alice, bob
	assert.Len(t, rt.asyncs, 4)
}

func TestFeedProvider(t *testing.T) {
	pair := domain.Pair{From: "BTC", To: "USDT"}

	for _, platform := range []string{config.PlatformBinance, config.PlatformBybit} {
		client, err := newClient(platform, config.Credentials{APIKey: "k", APISecret: "s"})
		require.NoError(t, err)
		provider, err := newFeedProvider(client, time.Second)
		require.NoError(t, err)

		market, err := provider.MarketFeed(pair, nil)
		require.NoError(t, err)
		assert.NotNil(t, market)
		account, err := provider.AccountFeed(pair, nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, account)
	}

	client, err := newClient(config.PlatformSimulate, config.Credentials{})
	require.NoError(t, err)
	provider, err := newFeedProvider(client, time.Second)
	require.NoError(t, err)
	_, err = provider.MarketFeed(pair, nil)
	assert.Error(t, err)
	_, err = provider.AccountFeed(pair, nil, nil)
	assert.Error(t, err, "simulation needs a quote source")

	_, err = newClient("ftx", config.Credentials{})
	assert.Error(t, err)
	_, err = newFeedProvider("client", time.Second)
	assert.Error(t, err)
}

func TestSupervisor_ExitCodes(t *testing.T) {
	stopped := func(ctx context.Context) error { return nil }
	crashed := func(ctx context.Context) error { return errors.New("boom") }
	waiting := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	tests := []struct {
		name   string
		runs   []func(ctx context.Context) error
		cancel bool
		want   int
	}{
		{name: "all stopped", runs: []func(ctx context.Context) error{stopped, stopped}, want: 0},
		{name: "one crashed", runs: []func(ctx context.Context) error{stopped, crashed}, want: 3},
		{name: "interrupted", runs: []func(ctx context.Context) error{waiting, waiting}, cancel: true, want: 0},
		{name: "crash does not stop others", runs: []func(ctx context.Context) error{crashed, waiting}, cancel: true, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var jobs []Job
			for i, run := range tt.runs {
				jobs = append(jobs, Job{Runner: funcRunner{name: "job_" + string(rune('a'+i)), run: run}})
			}

			if tt.cancel {
				time.AfterFunc(50*time.Millisecond, cancel)
			}
			code := NewSupervisor(t.TempDir(), 3, nil).Run(ctx, jobs)
			assert.Equal(t, tt.want, code)
		})
	}
}
