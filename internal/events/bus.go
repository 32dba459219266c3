package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventCycleStarted       EventType = "CYCLE_STARTED"
	EventCycleCompleted     EventType = "CYCLE_COMPLETED"
	EventBalancesObserved   EventType = "BALANCES_OBSERVED"
	EventTransferSubmitted  EventType = "TRANSFER_SUBMITTED"
	EventTransferSkipped    EventType = "TRANSFER_SKIPPED"
	EventTransferVerified   EventType = "TRANSFER_VERIFIED"
	EventVerificationFailed EventType = "VERIFICATION_FAILED"
	EventReportGenerated    EventType = "REPORT_GENERATED"
	EventAlertRaised        EventType = "ALERT_RAISED"
	EventBreakerTripped     EventType = "BREAKER_TRIPPED"
	EventBreakerReset       EventType = "BREAKER_RESET"
	EventError              EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all matching subscribers.
// Subscribers run on the publisher's goroutine; they must not block.
func (eb *EventBus) Publish(eventType EventType, data interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	eb.mu.RLock()
	subs := append([]Subscriber(nil), eb.subscribers[eventType]...)
	all := append([]Subscriber(nil), eb.allSubs...)
	eb.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
	for _, sub := range all {
		sub(event)
	}
}
