package app

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/sigtrader/internal/notify"
	"github.com/vadiminshakov/sigtrader/internal/worker"
)

// Job is a worker together with the notifier and logger of its lifecycle.
type Job struct {
	Runner   worker.Runner
	Notifier notify.Sink
	Logger   *zap.Logger
}

// Supervisor runs jobs side by side. A crashed job does not stop the others.
type Supervisor struct {
	lockDir       string
	crashExitCode int
	l             *zap.Logger
}

// NewSupervisor creates a supervisor locking workers in lockDir.
func NewSupervisor(lockDir string, crashExitCode int, l *zap.Logger) *Supervisor {
	if l == nil {
		l = zap.NewNop()
	}
	if crashExitCode == 0 {
		crashExitCode = 1
	}
	return &Supervisor{lockDir: lockDir, crashExitCode: crashExitCode, l: l}
}

// Run blocks until every job has finished and returns the process exit code:
// 0 if all of them stopped or were interrupted, the crash exit code otherwise.
func (s *Supervisor) Run(ctx context.Context, jobs []Job) int {
	outcomes := make([]worker.Outcome, len(jobs))

	g := new(errgroup.Group)
	for i, job := range jobs {
		g.Go(func() error {
			outcome, err := worker.Execute(ctx, job.Runner, s.lockDir, job.Notifier, job.Logger)
			outcomes[i] = outcome
			if err != nil {
				s.l.Error("worker finished with error",
					zap.String("worker", job.Runner.Name()),
					zap.Stringer("outcome", outcome),
					zap.Error(err))
				return nil
			}
			s.l.Info("worker finished", zap.String("worker", job.Runner.Name()), zap.Stringer("outcome", outcome))
			return nil
		})
	}
	_ = g.Wait()

	for _, outcome := range outcomes {
		if outcome == worker.OutcomeCrashed {
			return s.crashExitCode
		}
	}
	return 0
}
