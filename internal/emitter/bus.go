package emitter

import (
	"context"
	"sync"
)

// Bus is an in-process pub/sub for verdict events. Dashboards subscribe to
// it through the SSE endpoint.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan *Event
	allSubs     []chan *Event
	bufferSize  int
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]chan *Event),
		bufferSize:  100,
	}
}

// Subscribe creates a channel that receives events of the given types.
// Pass no types to receive every event.
func (b *Bus) Subscribe(types ...EventType) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	if len(types) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, t := range types {
			b.subscribers[t] = append(b.subscribers[t], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.subscribers {
		b.subscribers[t] = without(subs, ch)
	}
	b.allSubs = without(b.allSubs, ch)
	close(ch)
}

func without(subs []chan *Event, ch chan *Event) []chan *Event {
	out := subs[:0:0]
	for _, s := range subs {
		if s != ch {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers ev to every matching subscriber. Slow subscribers miss
// events rather than stall the publisher.
func (b *Bus) Publish(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[ev.Type] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the total number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}

// BusSink publishes every event on a Bus.
type BusSink struct {
	bus *Bus
}

func NewBusSink(bus *Bus) *BusSink { return &BusSink{bus: bus} }

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Deliver(_ context.Context, ev *Event) error {
	s.bus.Publish(ev)
	return nil
}
