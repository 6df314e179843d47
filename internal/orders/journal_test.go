package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

func TestJournal_ReplayLatestState(t *testing.T) {
	dir := t.TempDir()

	journal, err := OpenJournal(dir, "alice")
	require.NoError(t, err)

	tracker := NewTracker("alice", nil, journal)
	first := tracker.NextID(domain.SideBuy, btcUSDT)
	second := tracker.NextID(domain.SideSell, btcUSDT)

	_, err = tracker.Register(first)
	require.NoError(t, err)
	_, err = tracker.Register(second)
	require.NoError(t, err)
	_, err = tracker.Acknowledge(first, "ex-1")
	require.NoError(t, err)
	_, err = tracker.Reject(second)
	require.NoError(t, err)
	require.NoError(t, journal.Close())

	reopened, err := OpenJournal(dir, "alice")
	require.NoError(t, err)
	defer reopened.Close()

	orders, err := reopened.Orders()
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, domain.ClientOrder{ClientOrderID: first, ExchangeOrderID: "ex-1", Status: domain.OrderAcknowledged}, orders[0])
	assert.Equal(t, domain.ClientOrder{ClientOrderID: second, Status: domain.OrderRejected}, orders[1])

	restored := NewTracker("alice", orders, reopened)
	assert.Equal(t, "alice_BUY_BTC_USDT_market_order_3", restored.NextID(domain.SideBuy, btcUSDT))
}

func TestJournal_KeepsBoundedWindow(t *testing.T) {
	journal, err := openJournal(t.TempDir(), "alice", 2, 2)
	require.NoError(t, err)
	defer journal.Close()

	tracker := NewTracker("alice", nil, journal)
	var ids []string
	for i := 0; i < 10; i++ {
		id := tracker.NextID(domain.SideBuy, btcUSDT)
		_, err := tracker.Register(id)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	orders, err := journal.Orders()
	require.NoError(t, err)
	require.NotEmpty(t, orders)
	assert.Less(t, len(orders), len(ids))
	assert.NotEqual(t, ids[0], orders[0].ClientOrderID, "oldest segment is dropped")
	assert.Equal(t, ids[len(ids)-1], orders[len(orders)-1].ClientOrderID)

	assert.GreaterOrEqual(t, segmentLimit*maxSegments, 100000)
}
