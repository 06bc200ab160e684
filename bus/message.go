package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Broadcast is the reserved recipient for messages visible to all agents.
const Broadcast = "broadcast"

// MessageType is the closed set of message kinds the hub routes.
type MessageType string

const (
	TypeTaskAssignment   MessageType = "task_assignment"
	TypeResourceRequest  MessageType = "resource_request"
	TypeResourceResponse MessageType = "resource_response"
	TypeStatusUpdate     MessageType = "status_update"
	TypeCoordination     MessageType = "coordination"
	TypeDiscovery        MessageType = "discovery"
	TypeHeartbeat        MessageType = "heartbeat"
	TypeAlert            MessageType = "alert"
	TypeResult           MessageType = "result"
)

// Valid returns true if the type is one of the known kinds.
func (t MessageType) Valid() bool {
	switch t {
	case TypeTaskAssignment, TypeResourceRequest, TypeResourceResponse,
		TypeStatusUpdate, TypeCoordination, TypeDiscovery,
		TypeHeartbeat, TypeAlert, TypeResult:
		return true
	default:
		return false
	}
}

// Priority bands. Lower values are more urgent.
const (
	PriorityUrgent = 0
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 9
)

// Message is an immutable envelope routed by the bus.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// From is the sending agent (or "hub" for hub-originated messages).
	From string `json:"from"`

	// To is the recipient agent name, or Broadcast.
	To string `json:"to"`

	// Type selects the dispatch handler.
	Type MessageType `json:"type"`

	// Payload is the type-specific body.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Priority orders delivery; lower is more urgent.
	Priority int `json:"priority"`

	// CreatedAt is when the message was accepted by the bus.
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage builds a message with a generated id and creation timestamp.
func NewMessage(from, to string, msgType MessageType, payload json.RawMessage, priority int) *Message {
	return &Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

// Marshal serializes the message to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage deserializes a message from JSON.
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AssignmentPayload is the body of a task_assignment message.
type AssignmentPayload struct {
	TaskID        string          `json:"task_id"`
	TaskType      string          `json:"task_type"`
	Required      []string        `json:"required,omitempty"`
	EstimatedLoad float64         `json:"estimated_load"`
	Body          json.RawMessage `json:"body,omitempty"`
}

// ResourceRequestPayload is the body of a resource_request message.
type ResourceRequestPayload struct {
	Kind            string  `json:"kind"`
	Amount          float64 `json:"amount"`
	DurationSeconds int     `json:"duration_seconds"`
}

// ResourceResponsePayload is the body of a resource_response message.
type ResourceResponsePayload struct {
	Granted   bool    `json:"granted"`
	LockID    string  `json:"lock_id,omitempty"`
	Shortfall float64 `json:"shortfall,omitempty"`
}

// StatusPayload is the body of a status_update message.
type StatusPayload struct {
	Status   string  `json:"status"`
	Workload float64 `json:"workload"`
}

// ResultPayload is the body of a result message.
type ResultPayload struct {
	TaskID string          `json:"task_id"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HeartbeatPayload is the body of a heartbeat message.
type HeartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// DiscoveryPayload is the body of a discovery request. An empty capability
// list asks for the full roster.
type DiscoveryPayload struct {
	Capabilities []string `json:"capabilities,omitempty"`
}

// RosterEntry describes one agent in a discovery reply.
type RosterEntry struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
	Status       string   `json:"status"`
	Workload     float64  `json:"workload"`
}

// RosterPayload is the body of a discovery reply.
type RosterPayload struct {
	Agents []RosterEntry `json:"agents"`
}

// AlertPayload is the body of an alert message, used for reclamation and
// stuck-dependency notices.
type AlertPayload struct {
	Reason string  `json:"reason"`
	Kind   string  `json:"kind,omitempty"`
	Amount float64 `json:"amount,omitempty"`
	Detail string  `json:"detail,omitempty"`
}

// EncodePayload marshals a typed payload for use in a message.
func EncodePayload(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}

// DecodePayload unmarshals a message payload into v.
func DecodePayload(m *Message, v interface{}) error {
	if len(m.Payload) == 0 {
		return ErrInvalidPayload
	}
	return json.Unmarshal(m.Payload, v)
}
