// Package queue carries raw buy/sell command messages from ingress to a user worker.
// Producers may be concurrent, there is exactly one consumer per queue, and order is FIFO.
package queue

import (
	"context"
	"sort"
	"sync"
)

// Queue per-user command FIFO.
type Queue interface {
	// Enqueue appends a message. Safe for concurrent producers.
	Enqueue(ctx context.Context, msg []byte) error
	// TryDequeue pops the oldest message without blocking. ok is false when the queue is empty.
	TryDequeue(ctx context.Context) (msg []byte, ok bool, err error)
	// Ready is signalled after an Enqueue. A nil channel means the consumer has to poll.
	Ready() <-chan struct{}
}

// Memory in-process queue.
type Memory struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

// NewMemory creates an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{ready: make(chan struct{}, 1)}
}

func (q *Memory) Enqueue(_ context.Context, msg []byte) error {
	q.mu.Lock()
	q.items = append(q.items, append([]byte(nil), msg...))
	q.mu.Unlock()

	// coalesce wakeups, the consumer drains until empty anyway
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

func (q *Memory) TryDequeue(_ context.Context) ([]byte, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false, nil
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return msg, true, nil
}

func (q *Memory) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of pending messages.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Registry per-user queues.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]Queue
}

// NewRegistry creates a registry from user to queue.
func NewRegistry(queues map[string]Queue) *Registry {
	r := &Registry{queues: make(map[string]Queue, len(queues))}
	for user, q := range queues {
		r.queues[user] = q
	}
	return r
}

// Get returns the queue of user.
func (r *Registry) Get(user string) (Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[user]
	return q, ok
}

// Users returns the registered users in sorted order.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.queues))
	for u := range r.queues {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
