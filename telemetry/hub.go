package telemetry

import (
	"errors"
	"sync"
	"time"
)

// Handler receives deltas from a subscription.
type Handler func(Delta)

// Bus is the telemetry bus seen by the beacon and decoder.
type Bus interface {
	// Publish sends a delta to every sink and matching local subscriber.
	Publish(d Delta) error
	// Subscribe delivers values for path in context at most once per period.
	// The returned function cancels the subscription.
	Subscribe(context, path string, period time.Duration, fn Handler) (func(), error)
}

// Sink is an external destination for published deltas.
type Sink interface {
	PublishDelta(d Delta) error
}

// Throttle passes at most one event per period. The first event passes.
type Throttle struct {
	mu     sync.Mutex
	period time.Duration
	last   time.Time
	now    func() time.Time
}

// NewThrottle returns a throttle using now as its clock; nil means time.Now.
func NewThrottle(period time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{period: period, now: now}
}

// Allow reports whether an event may pass now.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.now()
	if !t.last.IsZero() && t.period > 0 && n.Sub(t.last) < t.period {
		return false
	}
	t.last = n
	return true
}

type subscription struct {
	context  string
	path     string
	throttle *Throttle
	fn       Handler
}

// Hub is the in-process Bus. Transports deliver inbound deltas with Inject
// and receive outbound deltas as sinks.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	sinks  []Sink
	now    func() time.Time
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscription), now: time.Now}
}

// SetClock replaces the clock used by subscription throttles created after
// the call.
func (h *Hub) SetClock(now func() time.Time) {
	h.mu.Lock()
	h.now = now
	h.mu.Unlock()
}

// AddSink registers an external destination.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

// Subscribe implements Bus.
func (h *Hub) Subscribe(context, path string, period time.Duration, fn Handler) (func(), error) {
	if fn == nil {
		return nil, errors.New("telemetry: nil handler")
	}
	if path == "" {
		return nil, errors.New("telemetry: empty path")
	}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = &subscription{
		context:  context,
		path:     path,
		throttle: NewThrottle(period, h.now),
		fn:       fn,
	}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}, nil
}

// Publish implements Bus. Sink errors are joined; local delivery always
// happens.
func (h *Hub) Publish(d Delta) error {
	h.mu.RLock()
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.PublishDelta(d); err != nil {
			errs = append(errs, err)
		}
	}
	h.Inject(d)
	return errors.Join(errs...)
}

// Inject delivers a delta to local subscribers only.
func (h *Hub) Inject(d Delta) {
	h.mu.RLock()
	var matched []*subscription
	for _, s := range h.subs {
		if s.context == d.Context {
			matched = append(matched, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range matched {
		fd, ok := d.filter(s.path)
		if !ok || !s.throttle.Allow() {
			continue
		}
		s.fn(fd)
	}
}

// Subscriptions returns the number of active subscriptions.
func (h *Hub) Subscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
