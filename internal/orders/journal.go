package orders

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/sigtrader/internal/domain"
)

const (
	segmentLimit   = 1000
	maxSegments    = 100
	orderKeyPrefix = "client_order_"
)

type orderRecord struct {
	ClientOrderID   string `json:"client_order_id"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`
	Status          string `json:"status"`
}

// Journal audit log of client orders in a WAL. The latest record of an id wins on replay.
// The WAL keeps a bounded window of maxSegments segments of segmentLimit records each; older
// segments are dropped, together with the orders recorded only there.
type Journal struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// OpenJournal opens (or creates) the order journal of user under dir.
func OpenJournal(dir, user string) (*Journal, error) {
	return openJournal(dir, user, segmentLimit, maxSegments)
}

func openJournal(dir, user string, limit, segments int) (*Journal, error) {
	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           fmt.Sprintf("orders_%s_", user),
		SegmentThreshold: limit,
		MaxSegments:      segments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init order journal WAL")
	}

	return &Journal{wal: wal}, nil
}

// Record appends the current state of order.
func (j *Journal) Record(order domain.ClientOrder) error {
	payload, err := json.Marshal(orderRecord{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: order.ExchangeOrderID,
		Status:          order.Status.String(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal client order")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, orderKeyPrefix+order.ClientOrderID, payload)
}

// Orders replays the journal and returns the latest state of every order in first-seen order.
func (j *Journal) Orders() ([]domain.ClientOrder, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	latest := make(map[string]domain.ClientOrder)
	var ids []string

	for msg := range j.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, orderKeyPrefix) {
			continue
		}

		var rec orderRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode client order %s", msg.Key)
		}

		if _, seen := latest[rec.ClientOrderID]; !seen {
			ids = append(ids, rec.ClientOrderID)
		}

		status := domain.OrderPending
		switch rec.Status {
		case domain.OrderAcknowledged.String():
			status = domain.OrderAcknowledged
		case domain.OrderRejected.String():
			status = domain.OrderRejected
		}
		latest[rec.ClientOrderID] = domain.ClientOrder{
			ClientOrderID:   rec.ClientOrderID,
			ExchangeOrderID: rec.ExchangeOrderID,
			Status:          status,
		}
	}

	out := make([]domain.ClientOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, latest[id])
	}
	return out, nil
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.Close()
}
