// Package logging builds the zap loggers used by the workers.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Factory creates named loggers writing to the console and to one file per logger.
// Close syncs and closes every file it opened.
type Factory struct {
	dir   string
	level zapcore.Level

	mu    sync.Mutex
	files []*os.File
}

// NewFactory creates a factory writing files into dir. debug lowers the level to Debug.
func NewFactory(dir string, debug bool) (*Factory, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	return &Factory{dir: dir, level: level}, nil
}

// Dir returns the log directory.
func (f *Factory) Dir() string {
	return f.dir
}

// Worker returns a logger for a worker process. Its file <name>.log is truncated on start.
func (f *Factory) Worker(name string) (*zap.Logger, error) {
	return f.build(name, os.O_TRUNC)
}

// Transactions returns the audit logger of a user. transactions_<user>.log is appended to.
func (f *Factory) Transactions(user string) (*zap.Logger, error) {
	return f.build("transactions_"+user, os.O_APPEND)
}

// Close syncs and closes all opened files.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var first error
	for _, file := range f.files {
		if err := file.Sync(); err != nil && first == nil {
			first = err
		}
		if err := file.Close(); err != nil && first == nil {
			first = err
		}
	}
	f.files = nil
	return first
}

func (f *Factory) build(name string, mode int) (*zap.Logger, error) {
	path := filepath.Join(f.dir, name+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}

	f.mu.Lock()
	f.files = append(f.files, file)
	f.mu.Unlock()

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stdout), f.level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), f.level),
	)

	return zap.New(core).Named(name), nil
}
