// Package notify delivers best-effort alerts to operators.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Priority of a notification.
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
	// PriorityEmergency repeats until acknowledged by the receiver.
	PriorityEmergency Priority = 2
)

// Sink sends a notification.
type Sink interface {
	Notify(ctx context.Context, message string, priority Priority) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, Priority) error { return nil }

// Prefixed prepends a fixed tag to every message, e.g. the name of the worker sending it.
type Prefixed struct {
	sink   Sink
	prefix string
}

// WithPrefix wraps sink so messages read "<prefix>: <message>".
func WithPrefix(sink Sink, prefix string) *Prefixed {
	return &Prefixed{sink: sink, prefix: prefix}
}

func (p *Prefixed) Notify(ctx context.Context, message string, priority Priority) error {
	return p.sink.Notify(ctx, p.prefix+": "+message, priority)
}

type notification struct {
	message  string
	priority Priority
}

// Async sends notifications from a background goroutine so a slow sink never stalls a worker loop.
// When the buffer is full new notifications are dropped and logged.
type Async struct {
	sink    Sink
	l       *zap.Logger
	queue   chan notification
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewAsync starts the delivery goroutine.
func NewAsync(sink Sink, buffer int, l *zap.Logger) *Async {
	if l == nil {
		l = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}

	a := &Async{
		sink:  sink,
		l:     l,
		queue: make(chan notification, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues the notification and returns immediately.
func (a *Async) Notify(_ context.Context, message string, priority Priority) error {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()

	if a.closed {
		a.l.Warn("notification after close dropped", zap.String("message", message))
		return nil
	}

	select {
	case a.queue <- notification{message: message, priority: priority}:
	default:
		a.l.Warn("notification buffer full, dropped", zap.String("message", message))
	}
	return nil
}

// Close stops accepting notifications and waits until the buffered ones are sent or ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.closeMu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.closeMu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)

	for n := range a.queue {
		if err := a.sink.Notify(context.Background(), n.message, n.priority); err != nil {
			a.l.Warn("notification failed", zap.Error(err), zap.Int("priority", int(n.priority)))
		}
	}
}

// Multi sends to every sink and returns the first error.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, message string, priority Priority) error {
	var first error
	for _, s := range m {
		if err := s.Notify(ctx, message, priority); err != nil && first == nil {
			first = err
		}
	}
	return first
}
