package events

import (
	"sync"
)

// Bus is an in-process pub/sub broker. Subscribers are keyed so that
// unsubscribing is O(1) and safe to call more than once.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[Event]map[uint64]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[Event]map[uint64]chan any)}
}

// Subscribe registers a listener for an event. The returned channel carries
// the raw payloads; the returned function unsubscribes and closes it.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	ch := make(chan any, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.topics[e] == nil {
		b.topics[e] = make(map[uint64]chan any)
	}
	b.topics[e][id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.topics[e][id]; !ok {
			return
		}
		delete(b.topics[e], id)
		close(ch)
	}
	return ch, unsub
}

// Publish delivers the payload to every subscriber of the event. A
// subscriber whose buffer is full misses the payload; publishing never
// blocks the hot path.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[e] {
		select {
		case ch <- payload:
		default:
		}
	}
}
