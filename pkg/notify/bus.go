// Package notify fans scan status events out to subscribers.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/models"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

// Bus is an in-process event bus. Publish never blocks: when a
// subscriber's buffer is full its oldest event is dropped to make
// room, so a slow observer loses history but never stalls a scan.
// Events for one job are delivered to each subscriber in publish
// order.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan models.ScanStatusEvent
	nextID int
	logger *zap.Logger
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan models.ScanStatusEvent),
		logger: logger.Named("notify"),
	}
}

// Subscribe registers a new observer with its own buffer. The returned
// cancel function is idempotent; the channel is closed on cancel.
func (b *Bus) Subscribe(buffer int) (<-chan models.ScanStatusEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan models.ScanStatusEvent, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(event models.ScanStatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Buffer full: drop the oldest event, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
				b.logger.Debug("dropped event for slow subscriber", zap.Int("subscriber", id))
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
