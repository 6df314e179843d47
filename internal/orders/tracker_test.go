package orders

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

var btcUSDT = domain.Pair{From: "BTC", To: "USDT"}

type memRecorder struct {
	records []domain.ClientOrder
	err     error
}

func (m *memRecorder) Record(order domain.ClientOrder) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, order)
	return nil
}

func TestTracker_RegisterAcknowledge(t *testing.T) {
	rec := &memRecorder{}
	tracker := NewTracker("alice", nil, rec)

	id := tracker.NextID(domain.SideBuy, btcUSDT)
	assert.Equal(t, "alice_BUY_BTC_USDT_market_order_1", id)

	order, err := tracker.Register(id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Empty(t, order.ExchangeOrderID)

	acked, err := tracker.Acknowledge(id, "12345")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderAcknowledged, acked.Status)

	got, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, "12345", got.ExchangeOrderID)
	assert.Equal(t, domain.OrderAcknowledged, got.Status)

	require.Len(t, rec.records, 2)
	assert.Equal(t, domain.OrderPending, rec.records[0].Status)
	assert.Equal(t, domain.OrderAcknowledged, rec.records[1].Status)
}

func TestTracker_UnknownAcknowledgment(t *testing.T) {
	tracker := NewTracker("alice", nil, nil)

	_, err := tracker.Acknowledge("never_registered", "999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolViolation))
	assert.Equal(t, 0, tracker.Len())
}

func TestTracker_Reject(t *testing.T) {
	rec := &memRecorder{}
	tracker := NewTracker("alice", nil, rec)
	_, err := tracker.Register("a")
	require.NoError(t, err)

	rejected, err := tracker.Reject("a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRejected, rejected.Status)

	got, ok := tracker.Get("a")
	require.True(t, ok)
	assert.Equal(t, domain.OrderRejected, got.Status)
	require.Len(t, rec.records, 2)
	assert.Equal(t, domain.OrderRejected, rec.records[1].Status)

	_, err = tracker.Reject("unknown")
	assert.True(t, errors.Is(err, ErrProtocolViolation))
}

func TestTracker_DuplicateRegister(t *testing.T) {
	tracker := NewTracker("alice", nil, nil)

	_, err := tracker.Register("x")
	require.NoError(t, err)
	_, err = tracker.Register("x")
	assert.True(t, errors.Is(err, ErrDuplicateOrder))
}

func TestTracker_RecorderFailureKeepsState(t *testing.T) {
	rec := &memRecorder{}
	tracker := NewTracker("alice", nil, rec)
	_, err := tracker.Register("a")
	require.NoError(t, err)

	rec.err = errors.New("disk full")
	_, err = tracker.Acknowledge("a", "1")
	require.Error(t, err)

	got, ok := tracker.Get("a")
	require.True(t, ok)
	assert.Equal(t, domain.OrderPending, got.Status)
}

func TestTracker_RestoresCounter(t *testing.T) {
	restored := []domain.ClientOrder{
		{ClientOrderID: "alice_BUY_BTC_USDT_market_order_7", Status: domain.OrderAcknowledged, ExchangeOrderID: "1"},
		{ClientOrderID: "alice_SELL_BTC_USDT_market_order_3", Status: domain.OrderPending},
		{ClientOrderID: "bob_SELL_BTC_USDT_market_order_42", Status: domain.OrderPending},
	}
	tracker := NewTracker("alice", restored, nil)

	assert.Equal(t, 3, tracker.Len())
	assert.Equal(t, "alice_SELL_BTC_USDT_market_order_8", tracker.NextID(domain.SideSell, btcUSDT))
}
