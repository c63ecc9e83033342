package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives a published event payload. The concrete payload type
// depends on the event Type (see events.go); handlers type-assert it.
type Handler func(payload interface{})

// HandlerID is a stable handle returned by Subscribe, used by Unsubscribe.
// Subscriptions are keyed by this handle rather than by comparing closure
// identity, which Go function values do not support.
type HandlerID int64

// Stats reports bus-wide subscriber and delivery counters.
type Stats struct {
	Subscribers        int
	Published          uint64
	HandlerPanics      uint64
	PerTypeSubscribers map[Type]int
}

// Bus is a process-wide, typed, synchronous publish/subscribe registry.
//
// Publish invokes every current subscriber for the event's type
// synchronously on the publishing goroutine, in registration order. A
// panicking handler is recovered, logged, and does not prevent later
// handlers for the same event from running. Subscribe/Unsubscribe calls
// during a publish never affect the snapshot currently being iterated.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Type][]*subscription
	nextID    atomic.Int64
	published atomic.Uint64
	panics    atomic.Uint64
	logger    *slog.Logger
}

type subscription struct {
	id      HandlerID
	handler Handler
}

// NewBus constructs an empty event bus. A nil logger falls back to
// slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[Type][]*subscription), logger: logger}
}

// Subscribe registers handler for eventType and returns a stable handle.
// Re-registering semantically equivalent handlers is permitted; each call
// returns a distinct HandlerID so they can be unsubscribed independently.
func (b *Bus) Subscribe(eventType Type, handler Handler) HandlerID {
	id := HandlerID(b.nextID.Add(1))
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], &subscription{id: id, handler: handler})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes the handler registered under id for eventType. It is a
// no-op if id is not currently subscribed.
func (b *Bus) Unsubscribe(eventType Type, id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// ClearSubscribers drops all handlers registered for eventType.
func (b *Bus) ClearSubscribers(eventType Type) {
	b.mu.Lock()
	delete(b.subs, eventType)
	b.mu.Unlock()
}

// Publish invokes every subscriber currently registered for eventType, in
// registration order, synchronously on the calling goroutine.
func (b *Bus) Publish(eventType Type, payload interface{}) {
	b.mu.RLock()
	subs := b.subs[eventType]
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	b.published.Add(1)
	for _, s := range snapshot {
		b.invoke(eventType, s, payload)
	}
}

func (b *Bus) invoke(eventType Type, s *subscription, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("event handler panicked", "event_type", string(eventType), "handler_id", int64(s.id), "panic", r)
		}
	}()
	s.handler(payload)
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	perType := make(map[Type]int, len(b.subs))
	total := 0
	for t, subs := range b.subs {
		perType[t] = len(subs)
		total += len(subs)
	}
	return Stats{
		Subscribers:        total,
		Published:          b.published.Load(),
		HandlerPanics:      b.panics.Load(),
		PerTypeSubscribers: perType,
	}
}
