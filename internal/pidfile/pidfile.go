// Package pidfile keeps a single running instance per worker.
package pidfile

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// ErrLocked another live process holds the pid file.
var ErrLocked = errors.New("pid file is locked by a running process")

// Lock is a held pid file.
type Lock struct {
	path string
}

// Acquire creates path holding the current pid. A file left by a dead process is replaced.
func Acquire(path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, errors.Wrapf(firstErr(werr, cerr), "write pid file %s", path)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, errors.Wrapf(err, "create pid file %s", path)
		}

		pid, alive := holder(path)
		if alive {
			return nil, errors.Wrapf(ErrLocked, "%s held by pid %d", path, pid)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "remove stale pid file %s", path)
		}
	}

	return nil, errors.Wrapf(ErrLocked, "%s", path)
}

// Path returns the pid file path.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the pid file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove pid file")
	}
	return nil
}

// holder reads the pid in path and reports whether that process still runs.
func holder(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if pid == os.Getpid() {
		return pid, true
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	// signal 0 checks existence without delivering anything
	err = proc.Signal(syscall.Signal(0))
	return pid, err == nil || errors.Is(err, syscall.EPERM)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
