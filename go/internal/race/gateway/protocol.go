package gateway

import (
	"github.com/google/uuid"
)

// Op is the operation a frame carries.
type Op string

const (
	// participant to host
	OpRead        Op = "read"
	OpWrite       Op = "write"
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"

	// host to participant
	OpResult Op = "result"
	OpNotify Op = "notify"
)

// Frame is one websocket message. Values are the textual cell encodings.
type Frame struct {
	Op   Op        `json:"op"`
	Seq  uint64    `json:"seq,omitempty"`
	UUID uuid.UUID `json:"uuid"`
	// Value is the payload of a write, the value of a read result or a notification.
	Value string `json:"value,omitempty"`
	// Error is set on a failed result.
	Error string `json:"error,omitempty"`
	// Request echoes the operation a result answers.
	Request Op `json:"request,omitempty"`
}

// Advertisement is what GET /info reports about a host.
type Advertisement struct {
	Service   uuid.UUID `json:"service"`
	Name      string    `json:"name"`
	Clients   int       `json:"clients"`
	Connected int       `json:"connected"`
	Accepting bool      `json:"accepting"`
	Phase     string    `json:"phase"`
}
