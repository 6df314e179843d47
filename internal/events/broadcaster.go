// Package events fans out state updates to in-process observers such as the debug printer.
package events

import (
	"sync"
	"time"
)

// MarketUpdate is written by the market worker after it stored a new value.
// Uses string fields so consumers print exactly what was stored.
type MarketUpdate struct {
	Timestamp    time.Time `json:"ts"`
	Pair         string    `json:"pair"`
	Bid          string    `json:"bid,omitempty"`
	Ask          string    `json:"ask,omitempty"`
	TakerFee     string    `json:"taker_fee,omitempty"`
	ExchangeRate string    `json:"exchange_rate,omitempty"`
}

// AccountUpdate is written by a user worker after its account state changed.
type AccountUpdate struct {
	Timestamp time.Time         `json:"ts"`
	User      string            `json:"user"`
	Reason    string            `json:"reason"`
	Balances  map[string]string `json:"balances,omitempty"`
}

// Broadcaster fans out values to all subscribers via buffered channels.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
	}
}

// Publish sends v to all subscribers, dropping it for a slow reader.
// A nil broadcaster ignores the call.
func (b *Broadcaster[T]) Publish(v T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives values until Unsubscribe is called.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
