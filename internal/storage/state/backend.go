// Package state holds the key-value stores shared between the market worker and user workers.
//
// Every single key is read and written atomically. Reads of several keys are not a
// transaction: a snapshot assembled key by key may mix values from two writer updates.
// Nested values (the tickers map) are always replaced as a whole.
package state

import (
	"context"
	"sync"
)

// Backend is a string key-value store with per-key atomicity.
type Backend interface {
	// Get returns the value stored at key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set replaces the value stored at key.
	Set(ctx context.Context, key, value string) error
}

// MemoryBackend keeps immutable string values in a sync.Map. A Set swaps the whole value,
// so readers always see either the previous or the next value of a key, never a partial one.
type MemoryBackend struct {
	values sync.Map
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values.Load(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.values.Store(key, value)
	return nil
}

// Keys returns the stored keys in no particular order.
func (m *MemoryBackend) Keys() []string {
	var keys []string
	m.values.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	return keys
}
