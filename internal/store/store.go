// ABOUTME: Store interface and record types for conversation persistence.
// ABOUTME: Defines the Message shape backing the memory service.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is a single conversation message. IsComplete transitions
// false -> true exactly once during a streamed response and never reverts;
// SaveMessage upserts on ID so the completing write replaces the partial row.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Role           string // user, assistant, system, tool
	Content        string
	Metadata       map[string]any
	IsComplete     bool
	CreatedAt      time.Time
}

// Store persists conversation messages for the memory service.
type Store interface {
	// SaveMessage inserts the message, or replaces the row with the same ID
	// (streamed responses finalize by rewriting their partial record).
	SaveMessage(ctx context.Context, msg *Message) error
	// History returns the most recent `limit` messages of a conversation in
	// chronological order (oldest first). limit <= 0 returns everything.
	History(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
