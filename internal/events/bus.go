// Package events provides a lightweight in-process pub/sub bus for system
// events (job lifecycle, cache invalidation) consumed by the websocket stream.
package events

import (
	"sync"
	"time"
)

// EventType identifies a category of system event.
type EventType string

const (
	// JobScheduled is emitted when a background job is accepted into the queue.
	JobScheduled EventType = "job_scheduled"
	// JobStarted is emitted when the executor picks up a job.
	JobStarted EventType = "job_started"
	// JobCompleted is emitted when a job finishes successfully.
	JobCompleted EventType = "job_completed"
	// JobRetrying is emitted when a failed job is requeued with backoff.
	JobRetrying EventType = "job_retrying"
	// JobFailed is emitted when a job exhausts its retries.
	JobFailed EventType = "job_failed"
	// CacheInvalidated is emitted when entries are removed by pattern or tag.
	CacheInvalidated EventType = "cache_invalidated"
)

// Event is a single system event with free-form payload data.
type Event struct {
	Type      EventType              `json:"type"`
	Module    string                 `json:"module"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Handler processes a published event. Handlers must not block; slow
// consumers should buffer internally.
type Handler func(event *Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus fans events out to subscribed handlers.
type Bus struct {
	subscribers map[EventType][]subscription
	nextID      int
	mu          sync.RWMutex
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]subscription),
	}
}

// Subscribe registers a handler for an event type and returns a function that
// removes it again. Stream consumers must unsubscribe on disconnect.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every known event type and returns a
// single unsubscribe function.
func (b *Bus) SubscribeAll(handler Handler) func() {
	types := []EventType{JobScheduled, JobStarted, JobCompleted, JobRetrying, JobFailed, CacheInvalidated}
	cancels := make([]func(), 0, len(types))
	for _, eventType := range types {
		cancels = append(cancels, b.Subscribe(eventType, handler))
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// Publish delivers an event to all handlers subscribed to its type.
// Timestamp is filled in if the caller left it zero.
func (b *Bus) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type]))
	for _, sub := range b.subscribers[event.Type] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Emit is a convenience wrapper building and publishing an event.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	b.Publish(&Event{
		Type:   eventType,
		Module: module,
		Data:   data,
	})
}
