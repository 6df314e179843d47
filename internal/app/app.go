package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/sigtrader/config"
	"github.com/vadiminshakov/sigtrader/internal/logging"
)

const (
	supervisorLogger = "supervisor"
	closeTimeout     = 10 * time.Second
)

// Run starts the workers of conf.Role and blocks until they are done. It returns the exit code.
func Run(ctx context.Context, conf config.Config) int {
	logs, err := logging.NewFactory(conf.LogDir, conf.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		return conf.CrashExitCode
	}
	defer logs.Close()

	l, err := logs.Worker(supervisorLogger + "_" + conf.Role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		return conf.CrashExitCode
	}

	rt, err := NewRuntime(ctx, conf, logs)
	if err != nil {
		l.Error("failed to init runtime", zap.Error(err))
		return conf.CrashExitCode
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			l.Warn("failed to close runtime", zap.Error(err))
		}
	}()

	jobs, err := rt.Jobs()
	if err != nil {
		l.Error("failed to create workers", zap.Error(err))
		return conf.CrashExitCode
	}

	l.Info("starting",
		zap.String("role", conf.Role),
		zap.String("pair", conf.Pair.String()),
		zap.String("platform", conf.Platform),
		zap.String("market_platform", conf.MarketPlatform),
		zap.String("state_backend", conf.StateBackend),
		zap.Bool("submit_orders", conf.SubmitOrders),
		zap.Int("workers", len(jobs)))

	return NewSupervisor(conf.LogDir, conf.CrashExitCode, l).Run(ctx, jobs)
}
