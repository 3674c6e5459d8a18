package services

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"
	EventReconnecting     EventType = "reconnecting"
	EventPushError        EventType = "push_error"
	EventDeposit          EventType = "deposit"
	EventWithdrawal       EventType = "withdrawal"
	EventBalance          EventType = "balance"
	EventMessage          EventType = "message"
)

var allEventTypes = []EventType{
	EventConnectionOpened,
	EventConnectionClosed,
	EventReconnecting,
	EventPushError,
	EventDeposit,
	EventWithdrawal,
	EventBalance,
	EventMessage,
}

// Event represents something the push client observed
type Event struct {
	Type EventType              `json:"type"`
	Time time.Time              `json:"time"`
	Data map[string]interface{} `json:"data"`
}

// EventBus fans push events out to in-process subscribers
type EventBus struct {
	subscribers map[EventType][]chan Event
	closed      bool
	mu          sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
	}
}

// Subscribe creates a subscription to events of a specific type
func (eb *EventBus) Subscribe(eventType EventType, bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all event types
func (eb *EventBus) SubscribeAll(bufferSize int) <-chan Event {
	ch := make(chan Event, bufferSize)

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		close(ch)
		return ch
	}
	for _, eventType := range allEventTypes {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	}
	return ch
}

// Publish delivers event to every subscriber without blocking. A full subscriber
// misses the event.
func (eb *EventBus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Unsubscribe removes ch from every type it is subscribed to and closes it
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	var found chan Event
	for eventType, subscribers := range eb.subscribers {
		kept := subscribers[:0]
		for _, subscriber := range subscribers {
			if subscriber == ch {
				found = subscriber
				continue
			}
			kept = append(kept, subscriber)
		}
		eb.subscribers[eventType] = kept
	}

	if found != nil {
		close(found)
	}
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	// SubscribeAll channels appear under several types
	seen := make(map[chan Event]bool)
	for eventType, subscribers := range eb.subscribers {
		for _, ch := range subscribers {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
		delete(eb.subscribers, eventType)
	}
}
