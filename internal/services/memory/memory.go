// ABOUTME: In-process memory service exposing message persistence over MCP.
// ABOUTME: Tools store_message/store_input plus the history resource, backed by the store.

package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cortexcore/cortex/internal/mcp"
	"github.com/cortexcore/cortex/internal/store"
)

// ServiceName is the logical name the memory service registers under.
const ServiceName = "memory"

// Tool and resource names exposed by the service.
const (
	ToolStoreMessage    = "store_message"
	ToolStoreInput      = "store_input"
	ResourceHistoryTmpl = "history/{conversation_id}"
)

// DefaultHistoryLimit bounds the history resource when no limit is configured.
const DefaultHistoryLimit = 50

var storeMessageSchema = mcp.MustSchema(`{
	"type": "object",
	"properties": {
		"conversation_id": {"type": "string"},
		"sender_id": {"type": "string"},
		"role": {"type": "string", "enum": ["user", "assistant", "system", "tool"]},
		"content": {"type": "string"},
		"message_id": {"type": "string"},
		"is_complete": {"type": "boolean"}
	},
	"required": ["conversation_id", "role", "content"]
}`)

var storeInputSchema = mcp.MustSchema(`{
	"type": "object",
	"properties": {
		"conversation_id": {"type": "string"},
		"user_id": {"type": "string"},
		"content": {"type": "string"}
	},
	"required": ["conversation_id", "user_id", "content"]
}`)

// Service implements mcp.Provider over the message store.
type Service struct {
	store        store.Store
	historyLimit int
	logger       *slog.Logger
}

// New creates the memory service. historyLimit <= 0 selects
// DefaultHistoryLimit. Pass nil logger for default.
func New(st store.Store, historyLimit int, logger *slog.Logger) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		historyLimit: historyLimit,
		logger:       logger.With("component", "memory"),
	}
}

// Name implements mcp.Provider.
func (s *Service) Name() string { return ServiceName }

// Tools implements mcp.Provider with the explicit registration table.
func (s *Service) Tools() []mcp.ToolDef {
	return []mcp.ToolDef{
		{
			Name:        ToolStoreMessage,
			Description: "Persist an assistant/system/tool message in a conversation",
			Schema:      storeMessageSchema,
			Handler:     s.storeMessage,
		},
		{
			Name:        ToolStoreInput,
			Description: "Persist a user input message in a conversation",
			Schema:      storeInputSchema,
			Handler:     s.storeInput,
		},
	}
}

// Resources implements mcp.Provider.
func (s *Service) Resources() []mcp.ResourceDef {
	return []mcp.ResourceDef{
		{
			Template:    ResourceHistoryTmpl,
			Description: "Conversation history, oldest first",
			Handler:     s.history,
		},
	}
}

// Healthy implements mcp.Provider by pinging the backing store.
func (s *Service) Healthy(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) storeMessage(ctx context.Context, args map[string]any) (map[string]any, error) {
	msg := &store.Message{
		ID:             stringArg(args, "message_id"),
		ConversationID: stringArg(args, "conversation_id"),
		SenderID:       stringArg(args, "sender_id"),
		Role:           stringArg(args, "role"),
		Content:        stringArg(args, "content"),
		IsComplete:     true,
		CreatedAt:      time.Now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SenderID == "" {
		msg.SenderID = msg.Role
	}
	if v, ok := args["is_complete"].(bool); ok {
		msg.IsComplete = v
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, &mcp.RemoteError{Detail: "store_message: " + err.Error(), Err: err}
	}
	return map[string]any{"message_id": msg.ID}, nil
}

func (s *Service) storeInput(ctx context.Context, args map[string]any) (map[string]any, error) {
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: stringArg(args, "conversation_id"),
		SenderID:       stringArg(args, "user_id"),
		Role:           store.RoleUser,
		Content:        stringArg(args, "content"),
		IsComplete:     true,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, &mcp.RemoteError{Detail: "store_input: " + err.Error(), Err: err}
	}
	return map[string]any{"message_id": msg.ID}, nil
}

func (s *Service) history(ctx context.Context, params map[string]string) (map[string]any, error) {
	msgs, err := s.store.History(ctx, params["conversation_id"], s.historyLimit)
	if err != nil {
		return nil, &mcp.RemoteError{Detail: "history: " + err.Error(), Err: err}
	}

	entries := make([]any, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, map[string]any{
			"message_id":      m.ID,
			"conversation_id": m.ConversationID,
			"sender_id":       m.SenderID,
			"role":            m.Role,
			"content":         m.Content,
			"is_complete":     m.IsComplete,
			"created_at":      m.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return map[string]any{"messages": entries}, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
