package events

import (
	"context"
	"log/slog"
	"sync"
)

// Bus fans events out to in-process subscribers. Sends never block: a
// subscriber whose buffer is full loses the event, keeping slow consumers
// off the dispatch path.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
	log         *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		log:         slog.Default().With("component", "event_bus"),
	}
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus a cancel function. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	e = stamp(e)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// Subscriber buffer full; drop rather than stall dispatch.
			b.log.Warn("subscriber lagging, event dropped", "subscriber", id, "type", string(e.Type))
		}
	}
	return nil
}

// Close removes all subscribers and closes their channels. Publishing to a
// closed bus is a silent no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
