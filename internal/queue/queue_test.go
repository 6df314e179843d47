package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue never blocks")

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, []byte(fmt.Sprintf("c%d", i))))
	}

	select {
	case <-q.Ready():
	default:
		t.Fatal("ready not signalled")
	}

	for i := 0; i < 5; i++ {
		msg, ok, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("c%d", i), string(msg))
	}

	assert.Equal(t, 0, q.Len())
}

func TestMemory_EnqueueCopiesMessage(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	buf := []byte("buy")
	require.NoError(t, q.Enqueue(ctx, buf))
	buf[0] = 'x'

	msg, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "buy", string(msg))
}

func TestMemory_ConcurrentProducers(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	const producers, perProducer = 8, 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Enqueue(ctx, []byte(fmt.Sprintf("%d:%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	// per producer order is preserved
	last := make(map[int]int)
	for p := 0; p < producers; p++ {
		last[p] = -1
	}
	count := 0
	for {
		msg, ok, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		var p, i int
		_, err = fmt.Sscanf(string(msg), "%d:%d", &p, &i)
		require.NoError(t, err)
		assert.Greater(t, i, last[p])
		last[p] = i
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}

func TestRegistry(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	r := NewRegistry(map[string]Queue{"alice": a, "bob": b})

	q, ok := r.Get("alice")
	require.True(t, ok)
	assert.Same(t, a, q)

	_, ok = r.Get("carol")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"alice", "bob"}, r.Users())
}
