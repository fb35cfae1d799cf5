// ABOUTME: Tests for the cognition service's get_context tool.
// ABOUTME: Covers turn windowing, character budget and empty history.

package cognition

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexcore/cortex/internal/mcp"
)

func callGetContext(t *testing.T, svc *Service, args map[string]any) map[string]any {
	t.Helper()
	c := mcp.NewInProcessClient(svc, nil)
	result, err := c.CallTool(context.Background(), ToolGetContext, args)
	require.NoError(t, err)
	return result
}

func historyEntry(role, content string) map[string]any {
	return map[string]any{"role": role, "content": content}
}

func TestCognition_EmptyHistoryYieldsEmptyContext(t *testing.T) {
	result := callGetContext(t, New(0, 0, nil), map[string]any{
		"conversation_id": "c1",
		"content":         "hi",
	})
	assert.Equal(t, "", result["context"])
	assert.Equal(t, 0, result["turns_used"])
}

func TestCognition_RecentTurnsInChronologicalOrder(t *testing.T) {
	result := callGetContext(t, New(0, 0, nil), map[string]any{
		"conversation_id": "c1",
		"content":         "next",
		"history": []any{
			historyEntry("user", "first"),
			historyEntry("assistant", "second"),
		},
	})

	text := result["context"].(string)
	assert.True(t, strings.HasPrefix(text, "Recent conversation:\n"))
	assert.Less(t, strings.Index(text, "user: first"), strings.Index(text, "assistant: second"))
	assert.Equal(t, 2, result["turns_used"])
}

func TestCognition_TurnWindowKeepsNewest(t *testing.T) {
	var history []any
	for i := 0; i < 20; i++ {
		history = append(history, historyEntry("user", fmt.Sprintf("turn %d", i)))
	}

	result := callGetContext(t, New(5, 0, nil), map[string]any{
		"conversation_id": "c1",
		"content":         "next",
		"history":         history,
	})

	text := result["context"].(string)
	assert.Equal(t, 5, result["turns_used"])
	assert.NotContains(t, text, "turn 14")
	assert.Contains(t, text, "turn 15")
	assert.Contains(t, text, "turn 19")
}

func TestCognition_CharacterBudgetDropsOldest(t *testing.T) {
	long := strings.Repeat("x", 100)
	result := callGetContext(t, New(10, 150, nil), map[string]any{
		"conversation_id": "c1",
		"content":         "next",
		"history": []any{
			historyEntry("user", long),
			historyEntry("assistant", "short and new"),
		},
	})

	text := result["context"].(string)
	assert.Contains(t, text, "short and new")
	assert.NotContains(t, text, long)
}

func TestCognition_RequiresContent(t *testing.T) {
	c := mcp.NewInProcessClient(New(0, 0, nil), nil)
	_, err := c.CallTool(context.Background(), ToolGetContext, map[string]any{
		"conversation_id": "c1",
	})
	var vErr *mcp.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
