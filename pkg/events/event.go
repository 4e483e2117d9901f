package events

import (
	"context"
	"time"
)

// Event types published on the bus.
const (
	SessionStarted    = "SESSION_STARTED"
	SessionTerminated = "SESSION_TERMINATED"
	IngestCompleted   = "INGEST_COMPLETED"
	IngestFailed      = "INGEST_FAILED"
)

// Event is one lifecycle notification.
type Event interface {
	// EventType returns the unique code for this event (e.g., "SESSION_STARTED").
	EventType() string

	Payload() map[string]interface{}

	Timestamp() time.Time
}

// Publisher is implemented by pkg/nats.Publisher. Services accept nil when
// no bus is configured.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Envelope is the wire form. The type and time travel with the data so
// subscribers can rebuild the event without parsing the subject.
type Envelope struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

func ToEnvelope(e Event) Envelope {
	return Envelope{Type: e.EventType(), OccurredAt: e.Timestamp(), Data: e.Payload()}
}

func (env Envelope) Event() BaseEvent {
	return BaseEvent{Type: env.Type, Data: env.Data, OccurredAt: env.OccurredAt}
}
