// ABOUTME: Event record distributed through the in-process bus.
// ABOUTME: Events are immutable after publish; sequence is assigned by the bus.

package bus

import (
	"time"
)

// Event types currently routed through the bus. The type field is an open
// string so new categories can be added without touching the bus itself.
const (
	EventTypeInput  = "input"
	EventTypeOutput = "output"
)

// Payload keys used by the orchestration pipeline for output events.
const (
	PayloadKeyMessageID  = "message_id"
	PayloadKeyRole       = "role"
	PayloadKeyContent    = "content"
	PayloadKeyIsComplete = "is_complete"
)

// Event is an immutable typed record distributed to interested subscribers.
// Sequence is monotonically increasing per (user_id, conversation_id) pair,
// assigned at publish time and never reused.
type Event struct {
	Type           string         `json:"type"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Payload        map[string]any `json:"payload"`
	Sequence       uint64         `json:"sequence"`
	CreatedAt      time.Time      `json:"timestamp"`
}

// ConversationKey returns the bus-internal key identifying the event's
// (user, conversation) stream.
func (e *Event) ConversationKey() string {
	return e.UserID + "/" + e.ConversationID
}
