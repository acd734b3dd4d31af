package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// LifecycleEvents are the event types that describe pool shape rather than
// individual jobs. Stream consumers that cannot keep up with per-job traffic
// subscribe to these only.
var LifecycleEvents = []EventType{
	EventWorkerStarted,
	EventWorkerExited,
	EventResized,
	EventIdle,
}

// Bus fans pool events out to subscribers.
// Publish is called from worker goroutines and never blocks them: a
// subscriber whose buffer is full misses the event and the miss is counted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[<-chan Event]*subscription
	buffer int
	closed bool

	dropped atomic.Uint64
}

type subscription struct {
	ch    chan Event
	types map[EventType]bool // nil: every type
}

func (s *subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// NewBus creates a bus with the default subscriber buffer
func NewBus() *Bus {
	return NewBusWithBuffer(defaultBufferSize)
}

// NewBusWithBuffer creates a bus whose subscriber channels hold size events
func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Bus{
		subs:   make(map[<-chan Event]*subscription),
		buffer: size,
	}
}

// Subscribe returns a channel receiving events of the given types, or every
// event when no type is given. Subscribing to a closed bus yields a closed channel.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	sub := &subscription{ch: make(chan Event, b.buffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subs[sub.ch] = sub
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscription that wants its type
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, ch)
	}
}
