package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus is an in-process fanout to buffered subscriber channels.
// Publish never blocks: a slow subscriber drops events rather than
// stalling order submission. Dropped counts are logged periodically.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a new buffered channel receiving future events.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if n := b.dropped.Add(1); n%1000 == 1 {
				slog.Warn("EVENT_BUS_DROP",
					slog.String("kind", string(ev.Kind)),
					slog.Uint64("dropped_total", n))
			}
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
