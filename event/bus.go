package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth when the
// caller does not choose one.
const DefaultSubscriberBuffer = 256

// Bus fans events out to subscribers over bounded channels. Publish never
// blocks: a subscriber that falls behind loses the events it had no room
// for, and the loss is counted rather than stalling producers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool

	buffer  int
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates a bus with the given per-subscriber buffer depth.
// Non-positive depths take the default.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: logger.With("component", "eventbus"),
	}
}

// Subscribe registers a new consumer and returns its channel plus an id for
// Unsubscribe. The channel closes on Unsubscribe or Close.
func (b *Bus) Subscribe() (<-chan Event, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, id
	}
	b.subs[id] = ch
	return ch, id
}

// Unsubscribe removes a consumer and closes its channel. Unknown ids are a
// no-op.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers the event to every subscriber with room, dropping it for
// any that are full. Publishing to a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.dropped.Add(1)%1000 == 1 {
				b.logger.Warn("slow event subscriber, dropping",
					"total_dropped", b.dropped.Load())
			}
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the current consumer count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel and rejects further publishes.
// Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
