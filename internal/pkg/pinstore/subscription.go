package pinstore

import (
	"sync"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/metrics"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//Subscription is a live, whole-snapshot feed owned by exactly one viewer
type Subscription struct {
	hub   *Hub
	query domain.PinQuery

	ch   chan []domain.Pin
	done chan struct{}
	once sync.Once
}

func newSubscription(h *Hub, query domain.PinQuery) *Subscription {
	return &Subscription{
		hub:   h,
		query: query,
		ch:    make(chan []domain.Pin, 1),
		done:  make(chan struct{}),
	}
}

//Snapshots delivers the latest snapshot. Snapshots that were never received are replaced by newer
//ones. The channel is closed when the subscription is released.
func (s *Subscription) Snapshots() <-chan []domain.Pin {
	return s.ch
}

//Query returns the query the subscription was opened with
func (s *Subscription) Query() domain.PinQuery {
	return s.query
}

//Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.unsubscribe(s)
	})
}

//deliver must be called with hub.mu held
func (s *Subscription) deliver(pins []domain.Pin) {
	select {
	case <-s.ch:
	default:
	}

	snapshot := append([]domain.Pin(nil), pins...)
	if snapshot == nil {
		snapshot = []domain.Pin{}
	}

	select {
	case s.ch <- snapshot:
		metrics.SnapshotsDelivered.Inc()
	default:
	}
}
