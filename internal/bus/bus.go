package bus

import (
	"sync"
	"sync/atomic"
)

// Bus is an in-process publish/subscribe bus. Delivery is non-blocking:
// an event that does not fit in a subscriber's buffer is dropped for
// that subscriber and counted, never queued.
type Bus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	nextID  uint64
	dropped atomic.Uint64
}

type subscriber struct {
	id      uint64
	pattern string
	ch      chan Event
}

// New creates an event bus with no subscribers.
func New() *Bus {
	return &Bus{}
}

// Publish fans the event out to every subscriber whose pattern matches
// its kind. Slow subscribers lose the event rather than stalling the
// publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !evt.Kind.Matches(sub.pattern) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers interest in kinds matching pattern (an exact kind
// or a dot-terminated namespace such as "timeline."). bufSize sets the
// channel buffer. The returned function removes the subscription; the
// channel is never closed, so pending events stay readable.
func (b *Bus) Subscribe(pattern string, bufSize int) (<-chan Event, func()) {
	sub := &subscriber{pattern: pattern, ch: make(chan Event, bufSize)}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Dropped reports how many events were lost to full subscriber buffers
// since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
