package bus

import (
	"context"
	"time"
)

// MessageType classifies an envelope.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeEvent    MessageType = "event"
	MessageTypeError    MessageType = "error"
)

// Envelope is the standard message envelope. Every published message must
// validate against the envelope schema before it is stored or delivered.
type Envelope struct {
	// ID is the unique message identifier
	ID string `json:"id"`

	// Timestamp is when the message was created
	Timestamp time.Time `json:"timestamp"`

	// From is the sender identifier
	From string `json:"from,omitempty"`

	// To is the addressed recipient for direct sends
	To string `json:"to,omitempty"`

	// Type classifies the message
	Type MessageType `json:"type"`

	// Topic routes the message to subscribers
	Topic string `json:"topic,omitempty"`

	// CorrelationID links request/response pairs
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload is the opaque message body
	Payload map[string]interface{} `json:"payload"`

	// Metadata carries extensible context
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Handler receives delivered envelopes. The context is cancelled when the
// per-delivery timeout elapses.
type Handler func(ctx context.Context, env *Envelope) error

// envelopeSchema is the structural contract every message must satisfy.
var envelopeSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"id":             map[string]interface{}{"type": "string", "minLength": 1},
		"timestamp":      map[string]interface{}{"type": "string"},
		"from":           map[string]interface{}{"type": "string"},
		"to":             map[string]interface{}{"type": "string"},
		"type":           map[string]interface{}{"enum": []interface{}{"request", "response", "event", "error"}},
		"topic":          map[string]interface{}{"type": "string"},
		"correlation_id": map[string]interface{}{"type": "string"},
		"payload":        map[string]interface{}{"type": "object"},
		"metadata":       map[string]interface{}{"type": "object"},
	},
	"required":             []interface{}{"id", "timestamp", "type", "payload"},
	"additionalProperties": false,
}
