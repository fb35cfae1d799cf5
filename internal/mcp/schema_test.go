// ABOUTME: Tests for tool argument schema parsing and validation.
// ABOUTME: Covers required fields, type checks, enums and URI template expansion.

package mcp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Validate(t *testing.T) {
	schema := MustSchema(`{
		"type": "object",
		"properties": {
			"conversation_id": {"type": "string"},
			"role": {"type": "string", "enum": ["user", "assistant", "system", "tool"]},
			"content": {"type": "string"},
			"is_complete": {"type": "boolean"},
			"limit": {"type": "integer"},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["conversation_id", "content"]
	}`)

	tests := []struct {
		name      string
		args      map[string]any
		wantField string
	}{
		{
			name: "valid full arguments",
			args: map[string]any{
				"conversation_id": "c1",
				"role":            "assistant",
				"content":         "hi",
				"is_complete":     true,
				"limit":           float64(10),
				"tags":            []any{"a", "b"},
			},
		},
		{
			name:      "missing required",
			args:      map[string]any{"content": "hi"},
			wantField: "conversation_id",
		},
		{
			name:      "wrong type",
			args:      map[string]any{"conversation_id": "c1", "content": 42},
			wantField: "content",
		},
		{
			name:      "enum violation",
			args:      map[string]any{"conversation_id": "c1", "content": "x", "role": "robot"},
			wantField: "role",
		},
		{
			name:      "non-integer limit",
			args:      map[string]any{"conversation_id": "c1", "content": "x", "limit": 1.5},
			wantField: "limit",
		},
		{
			name:      "bad array item",
			args:      map[string]any{"conversation_id": "c1", "content": "x", "tags": []any{"ok", 7}},
			wantField: "tags[1]",
		},
		{
			name: "unknown keys accepted",
			args: map[string]any{"conversation_id": "c1", "content": "x", "extra": "ignored"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.args)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestParseSchema_RejectsNonObjectTopLevel(t *testing.T) {
	_, err := ParseSchema(`{"type": "array"}`)
	assert.Error(t, err)
}

func TestExpandTemplate(t *testing.T) {
	uri, err := ExpandTemplate("history/{conversation_id}", map[string]string{"conversation_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, "history/c1", uri)

	uri, err = ExpandTemplate("users/{user_id}/threads/{thread_id}",
		map[string]string{"user_id": "u1", "thread_id": "t9"})
	require.NoError(t, err)
	assert.Equal(t, "users/u1/threads/t9", uri)
}

func TestExpandTemplate_MissingParameterFailsValidation(t *testing.T) {
	_, err := ExpandTemplate("history/{conversation_id}", map[string]string{})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "conversation_id", vErr.Field)

	// Empty values count as missing.
	_, err = ExpandTemplate("history/{conversation_id}", map[string]string{"conversation_id": ""})
	assert.True(t, errors.As(err, &vErr))
}

func TestTemplateParams(t *testing.T) {
	assert.Equal(t, []string{"user_id", "thread_id"},
		TemplateParams("users/{user_id}/threads/{thread_id}"))
	assert.Empty(t, TemplateParams("static/path"))
}
