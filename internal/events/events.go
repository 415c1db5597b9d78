package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventSyncCompleted    = "sync.completed"
	EventSyncDeadLettered = "sync.dead_lettered"
	EventInboundDiscarded = "sync.inbound_discarded"
	EventFullSyncFinished = "sync.full_sync_finished"
)

// JobEventPayload describes a processed queue job for event consumers.
type JobEventPayload struct {
	JobID         string    `json:"job_id"`
	IntegrationID string    `json:"integration_id"`
	EventID       string    `json:"event_id,omitempty"`
	ExternalID    string    `json:"external_id,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	Direction     string    `json:"direction"`
	Operation     string    `json:"operation"`
	Action        string    `json:"action,omitempty"`
	RetryCount    int       `json:"retry_count"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// FullSyncPayload summarizes one integration's full sync run.
type FullSyncPayload struct {
	IntegrationID string    `json:"integration_id"`
	Provider      string    `json:"provider"`
	Success       bool      `json:"success"`
	Synced        int       `json:"synced"`
	Failed        int       `json:"failed"`
	Error         string    `json:"error,omitempty"`
	NextSyncAt    time.Time `json:"next_sync_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
