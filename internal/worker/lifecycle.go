// Package worker runs the market data worker and the per-user workers.
//
// Each worker is a single-threaded loop. Workers share nothing except the state stores,
// and a worker that fails stops alone.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigtrader/internal/notify"
	"github.com/vadiminshakov/sigtrader/internal/pidfile"
)

const farewellTimeout = 5 * time.Second

// Runner is a worker loop.
type Runner interface {
	// Name identifies the worker in logs, notifications and its pid file.
	Name() string
	// Run blocks until ctx is done or the worker fails.
	Run(ctx context.Context) error
}

// Outcome tells how a worker stopped.
type Outcome int

const (
	// OutcomeStopped the loop returned without an error.
	OutcomeStopped Outcome = iota
	// OutcomeInterrupted the process was asked to stop.
	OutcomeInterrupted
	// OutcomeCrashed the loop failed or panicked.
	OutcomeCrashed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStopped:
		return "stopped"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Execute runs w under a pid file lock in lockDir, announces start and stop through sink,
// and converts panics into a crashed outcome. The returned error is set for crashes only.
func Execute(ctx context.Context, w Runner, lockDir string, sink notify.Sink, l *zap.Logger) (Outcome, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if sink == nil {
		sink = notify.Nop{}
	}

	lock, err := pidfile.Acquire(filepath.Join(lockDir, w.Name()+".pid"))
	if err != nil {
		return OutcomeCrashed, errors.Wrapf(err, "lock worker %s", w.Name())
	}
	defer func() {
		if err := lock.Release(); err != nil {
			l.Warn("failed to release pid file", zap.String("path", lock.Path()), zap.Error(err))
		}
	}()

	l.Info("worker started", zap.String("worker", w.Name()), zap.String("pid_file", lock.Path()))
	_ = sink.Notify(ctx, "Started!", notify.PriorityHigh)

	runErr := runSafe(ctx, w)

	// ctx may already be cancelled, farewell messages use their own deadline
	farewellCtx, cancel := context.WithTimeout(context.Background(), farewellTimeout)
	defer cancel()

	switch {
	case ctx.Err() != nil && (runErr == nil || errors.Is(runErr, context.Canceled)):
		l.Info("worker interrupted", zap.String("worker", w.Name()))
		_ = sink.Notify(farewellCtx, "Interrupted! Bye bye!", notify.PriorityNormal)
		return OutcomeInterrupted, nil
	case runErr != nil:
		l.Error("worker crashed", zap.String("worker", w.Name()), zap.Error(runErr))
		_ = sink.Notify(farewellCtx, fmt.Sprintf("Crashed: %v", runErr), notify.PriorityEmergency)
		_ = sink.Notify(farewellCtx, "Bye bye!", notify.PriorityNormal)
		return OutcomeCrashed, runErr
	default:
		l.Info("worker stopped", zap.String("worker", w.Name()))
		_ = sink.Notify(farewellCtx, "Bye bye!", notify.PriorityNormal)
		return OutcomeStopped, nil
	}
}

func runSafe(ctx context.Context, w Runner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in %s: %v\n%s", w.Name(), r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
