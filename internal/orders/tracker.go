// Package orders correlates client order ids with exchange order ids.
package orders

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

var (
	// ErrProtocolViolation the exchange acknowledged an order this tracker never issued.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrDuplicateOrder a client order id was registered twice.
	ErrDuplicateOrder = errors.New("duplicate client order id")
)

// Recorder persists order lifecycle changes.
type Recorder interface {
	Record(order domain.ClientOrder) error
}

// Tracker the client orders of one user. Orders are never removed during the process lifetime.
type Tracker struct {
	mu       sync.RWMutex
	user     string
	orders   map[string]*domain.ClientOrder
	counter  uint64
	recorder Recorder
}

// NewTracker creates a tracker for user. restored orders, e.g. replayed from a journal, are
// indexed and the request counter continues after the highest restored id. recorder may be nil.
func NewTracker(user string, restored []domain.ClientOrder, recorder Recorder) *Tracker {
	t := &Tracker{
		user:     user,
		orders:   make(map[string]*domain.ClientOrder, len(restored)),
		recorder: recorder,
	}

	for _, o := range restored {
		order := o
		t.orders[o.ClientOrderID] = &order
		if n, ok := t.sequenceOf(o.ClientOrderID); ok && n > t.counter {
			t.counter = n
		}
	}

	return t
}

// NextID returns a fresh client order id for side on pair.
func (t *Tracker) NextID(side domain.Side, pair domain.Pair) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counter++
	return domain.NewClientOrderID(t.user, side, pair, t.counter)
}

// Register records a new pending order.
func (t *Tracker) Register(clientOrderID string) (domain.ClientOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orders[clientOrderID]; ok {
		return domain.ClientOrder{}, errors.Wrap(ErrDuplicateOrder, clientOrderID)
	}

	order := &domain.ClientOrder{ClientOrderID: clientOrderID, Status: domain.OrderPending}
	if err := t.record(*order); err != nil {
		return domain.ClientOrder{}, err
	}
	t.orders[clientOrderID] = order

	return *order, nil
}

// Acknowledge marks the order as created on the exchange.
func (t *Tracker) Acknowledge(clientOrderID, exchangeOrderID string) (domain.ClientOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	order, ok := t.orders[clientOrderID]
	if !ok {
		return domain.ClientOrder{}, errors.Wrapf(ErrProtocolViolation,
			"acknowledgment for unknown client order id %s (exchange id %s)", clientOrderID, exchangeOrderID)
	}

	next := *order
	next.ExchangeOrderID = exchangeOrderID
	next.Status = domain.OrderAcknowledged
	if err := t.record(next); err != nil {
		return domain.ClientOrder{}, err
	}
	*order = next

	return next, nil
}

// Reject marks the order as refused by the exchange.
func (t *Tracker) Reject(clientOrderID string) (domain.ClientOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	order, ok := t.orders[clientOrderID]
	if !ok {
		return domain.ClientOrder{}, errors.Wrapf(ErrProtocolViolation,
			"rejection for unknown client order id %s", clientOrderID)
	}

	next := *order
	next.Status = domain.OrderRejected
	if err := t.record(next); err != nil {
		return domain.ClientOrder{}, err
	}
	*order = next

	return next, nil
}

// Get looks an order up by client order id.
func (t *Tracker) Get(clientOrderID string) (domain.ClientOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	order, ok := t.orders[clientOrderID]
	if !ok {
		return domain.ClientOrder{}, false
	}
	return *order, true
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

func (t *Tracker) record(order domain.ClientOrder) error {
	if t.recorder == nil {
		return nil
	}
	return errors.Wrap(t.recorder.Record(order), "record client order")
}

func (t *Tracker) sequenceOf(clientOrderID string) (uint64, bool) {
	if !strings.HasPrefix(clientOrderID, t.user+"_") {
		return 0, false
	}
	idx := strings.LastIndex(clientOrderID, "_")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(clientOrderID[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
