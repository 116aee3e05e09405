package engine

import (
	"sync"
	"time"
)

// EventHandler receives events from the bus.
type EventHandler func(Event)

type eventSub struct {
	fn    EventHandler
	types map[EventType]bool // nil = all
}

// EventBus fans engine events out to subscribers. Handlers run
// synchronously on the emitting goroutine and must not block.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]eventSub
	nextID int
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]eventSub)}
}

// Subscribe registers fn for every event and returns its id.
func (b *EventBus) Subscribe(fn EventHandler) int {
	return b.add(eventSub{fn: fn})
}

// SubscribeTypes registers fn for the given event types only.
func (b *EventBus) SubscribeTypes(fn EventHandler, types ...EventType) int {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return b.add(eventSub{fn: fn, types: set})
}

func (b *EventBus) add(s eventSub) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[b.nextID] = s
	return b.nextID
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *EventBus) Unsubscribe(id int) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Emit stamps the event and delivers it.
func (b *EventBus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.types == nil || s.types[e.Type] {
			handlers = append(handlers, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}
