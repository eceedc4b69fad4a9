// Package events is the in-process publish/subscribe bus that decouples the
// decision pipeline (gate, position, executor, monitor) from its observers
// (the HTTP/WebSocket surface, notify.Manager, the Postgres archive).
package events

import (
	"sync"
	"time"
)

// EventType enumerates the events this system raises.
type EventType string

const (
	EventPositionOpened      EventType = "POSITION_OPENED"
	EventPositionClosed      EventType = "POSITION_CLOSED"
	EventGateRejected        EventType = "GATE_REJECTED"
	EventObservationConfirmed EventType = "OBSERVATION_CONFIRMED"
	EventCircuitTripped      EventType = "CIRCUIT_TRIPPED"
	EventCircuitReset        EventType = "CIRCUIT_RESET"
	EventReconciled          EventType = "RECONCILED"
	EventError               EventType = "ERROR"
)

// Event is one published occurrence.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles a published Event.
type Subscriber func(Event)

// Bus fans events out to per-type and catch-all subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers event to matching subscribers, each in its own goroutine
// so a slow subscriber (e.g. a Telegram call) never blocks the caller.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishPositionOpened publishes a POSITION_OPENED event.
func (b *Bus) PublishPositionOpened(symbol string, entryPrice, sizeFraction float64, leverage int) {
	b.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":        symbol,
			"entry_price":   entryPrice,
			"size_fraction": sizeFraction,
			"leverage":      leverage,
		},
	})
}

// PublishPositionClosed publishes a POSITION_CLOSED event.
func (b *Bus) PublishPositionClosed(symbol string, exitPrice, pnlPct float64, reason string) {
	b.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"exit_price": exitPrice,
			"pnl_pct":    pnlPct,
			"reason":     reason,
		},
	})
}

// PublishGateRejected publishes a GATE_REJECTED event.
func (b *Bus) PublishGateRejected(symbol, reason string) {
	b.Publish(Event{
		Type: EventGateRejected,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	})
}

// PublishObservationConfirmed publishes an OBSERVATION_CONFIRMED event.
func (b *Bus) PublishObservationConfirmed(symbol string, triggerPrice, confirmedPrice float64) {
	b.Publish(Event{
		Type: EventObservationConfirmed,
		Data: map[string]interface{}{
			"symbol":          symbol,
			"trigger_price":   triggerPrice,
			"confirmed_price": confirmedPrice,
		},
	})
}

// PublishCircuitTripped publishes a CIRCUIT_TRIPPED event.
func (b *Bus) PublishCircuitTripped(symbol, reason string) {
	b.Publish(Event{
		Type: EventCircuitTripped,
		Data: map[string]interface{}{
			"symbol": symbol,
			"reason": reason,
		},
	})
}

// PublishCircuitReset publishes a CIRCUIT_RESET event.
func (b *Bus) PublishCircuitReset(symbol string) {
	b.Publish(Event{
		Type: EventCircuitReset,
		Data: map[string]interface{}{"symbol": symbol},
	})
}

// PublishReconciled publishes a RECONCILED event after a monitor sync with
// the exchange.
func (b *Bus) PublishReconciled(symbol string, adopted bool) {
	b.Publish(Event{
		Type: EventReconciled,
		Data: map[string]interface{}{
			"symbol":  symbol,
			"adopted": adopted,
		},
	})
}

// PublishError publishes an ERROR event.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
