// Package events provides the in-process pub/sub bus. The cycle engine and
// risk managers publish; the websocket hub and log sinks subscribe.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventCycleStarted      EventType = "CYCLE_STARTED"
	EventCycleCompleted    EventType = "CYCLE_COMPLETED"
	EventOrderFilled       EventType = "ORDER_FILLED"
	EventPositionOpened    EventType = "POSITION_OPENED"
	EventPositionClosed    EventType = "POSITION_CLOSED"
	EventTierAdvanced      EventType = "TIER_ADVANCED"
	EventDrawdownTriggered EventType = "DRAWDOWN_TRIGGERED"
	EventRecoveryModeOn    EventType = "RECOVERY_MODE_ON"
	EventRecoveryModeOff   EventType = "RECOVERY_MODE_OFF"
	EventTickerTierChanged EventType = "TICKER_TIER_CHANGED"
	EventBreakerTripped    EventType = "BREAKER_TRIPPED"
	EventBreakerReset      EventType = "BREAKER_RESET"
	EventEntriesHalted     EventType = "ENTRIES_HALTED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus dispatches events to subscribers. Publishing never blocks the cycle:
// subscribers run on their own goroutine per event.
type Bus struct {
	subscribers map[EventType][]Subscriber
	all         []Subscriber
	mu          sync.RWMutex
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], fn)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, fn)
}

// Publish dispatches an event asynchronously.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	handlers := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.all))
	handlers = append(handlers, b.subscribers[eventType]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		go fn(event)
	}
}
