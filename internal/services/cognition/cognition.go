// ABOUTME: In-process cognition service assembling working context for generation.
// ABOUTME: Exposes the get_context tool over MCP; pure computation, no storage.

package cognition

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cortexcore/cortex/internal/mcp"
)

// ServiceName is the logical name the cognition service registers under.
const ServiceName = "cognition"

// ToolGetContext assembles a bounded working context from recent history.
const ToolGetContext = "get_context"

// Defaults bounding the assembled context.
const (
	DefaultMaxTurns = 10
	DefaultMaxChars = 4000
)

var getContextSchema = mcp.MustSchema(`{
	"type": "object",
	"properties": {
		"conversation_id": {"type": "string"},
		"content": {"type": "string"},
		"history": {"type": "array", "items": {"type": "object"}}
	},
	"required": ["conversation_id", "content"]
}`)

// Service implements mcp.Provider. It distills the conversation history into
// a working context string the generator can use as a system prompt.
type Service struct {
	maxTurns int
	maxChars int
	logger   *slog.Logger
}

// New creates the cognition service. Non-positive bounds select the defaults.
func New(maxTurns, maxChars int, logger *slog.Logger) *Service {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		maxTurns: maxTurns,
		maxChars: maxChars,
		logger:   logger.With("component", "cognition"),
	}
}

// Name implements mcp.Provider.
func (s *Service) Name() string { return ServiceName }

// Tools implements mcp.Provider.
func (s *Service) Tools() []mcp.ToolDef {
	return []mcp.ToolDef{
		{
			Name:        ToolGetContext,
			Description: "Assemble a bounded working context from recent conversation history",
			Schema:      getContextSchema,
			Handler:     s.getContext,
		},
	}
}

// Resources implements mcp.Provider; cognition exposes none.
func (s *Service) Resources() []mcp.ResourceDef { return nil }

// Healthy implements mcp.Provider. Pure computation never degrades.
func (s *Service) Healthy(ctx context.Context) error { return nil }

// getContext keeps the most recent turns within the turn and character
// budgets and renders them as transcript lines, newest last.
func (s *Service) getContext(ctx context.Context, args map[string]any) (map[string]any, error) {
	history, _ := args["history"].([]any)

	start := 0
	if len(history) > s.maxTurns {
		start = len(history) - s.maxTurns
	}

	var lines []string
	total := 0
	for i := len(history) - 1; i >= start; i-- {
		entry, ok := history[i].(map[string]any)
		if !ok {
			continue
		}
		role, _ := entry["role"].(string)
		content, _ := entry["content"].(string)
		if content == "" {
			continue
		}
		line := role + ": " + content
		if total+len(line) > s.maxChars {
			break
		}
		total += len(line)
		lines = append(lines, line)
	}

	// Collected newest-first; flip back to chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}

	contextText := ""
	if len(lines) > 0 {
		contextText = "Recent conversation:\n" + strings.Join(lines, "\n")
	}

	return map[string]any{
		"context":    contextText,
		"turns_used": len(lines),
	}, nil
}
