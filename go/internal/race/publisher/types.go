package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RaceEvent is one coordinator event on its way to the stream.
type RaceEvent struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// EventPublisher sends race events to an external bus.
type EventPublisher interface {
	Publish(ctx context.Context, event RaceEvent) error
}

// Envelope is the JSON body of every message on the race stream.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps event for the wire.
func NewEnvelope(event RaceEvent) Envelope {
	return Envelope{
		EventID:   event.ID.String(),
		EventType: event.EventType,
		SessionID: event.SessionID.String(),
		Timestamp: event.CreatedAt.UTC(),
		Payload:   json.RawMessage(event.Payload),
	}
}
