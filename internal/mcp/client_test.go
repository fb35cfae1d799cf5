// ABOUTME: Tests for the in-process ServiceClient: dispatch tables and retry policy.
// ABOUTME: Uses a scriptable fake provider to force transient and permanent failures.

package mcp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scriptable provider for client and dispatcher tests.
type fakeProvider struct {
	name      string
	toolErr   error
	toolCalls atomic.Int64
	healthErr error
	failFirst int64 // fail this many tool calls before succeeding
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Tools() []ToolDef {
	return []ToolDef{
		{
			Name:   "echo",
			Schema: MustSchema(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				n := f.toolCalls.Add(1)
				if f.toolErr != nil {
					return nil, f.toolErr
				}
				if n <= f.failFirst {
					return nil, &RemoteError{Detail: "transient blip"}
				}
				return map[string]any{"text": args["text"]}, nil
			},
		},
	}
}

func (f *fakeProvider) Resources() []ResourceDef {
	return []ResourceDef{
		{
			Template: "items/{item_id}",
			Handler: func(ctx context.Context, params map[string]string) (map[string]any, error) {
				return map[string]any{"item_id": params["item_id"]}, nil
			},
		},
	}
}

func (f *fakeProvider) Healthy(ctx context.Context) error { return f.healthErr }

// fastRetry keeps test backoff negligible.
func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Factor: 2, Jitter: 0.2}
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	c := NewInProcessClient(&fakeProvider{name: "memory"}, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // close is multi-call safe
	assert.Error(t, c.Connect(context.Background()))
}

func TestClient_CallTool(t *testing.T) {
	c := NewInProcessClient(&fakeProvider{name: "memory"}, nil)

	result, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result["text"])
}

func TestClient_UnknownToolNotSupported(t *testing.T) {
	c := NewInProcessClient(&fakeProvider{name: "memory"}, nil)

	_, err := c.CallTool(context.Background(), "nope", map[string]any{})
	assert.ErrorIs(t, err, ErrToolNotSupported)
}

func TestClient_SchemaViolationNotRetried(t *testing.T) {
	p := &fakeProvider{name: "memory"}
	c := NewInProcessClientWithRetry(p, fastRetry(), nil)

	_, err := c.CallTool(context.Background(), "echo", map[string]any{})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, int64(0), p.toolCalls.Load(), "handler must not run on invalid args")
}

func TestClient_TransientFailureRetriedThenSucceeds(t *testing.T) {
	p := &fakeProvider{name: "memory", failFirst: 2}
	c := NewInProcessClientWithRetry(p, fastRetry(), nil)

	result, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result["text"])
	assert.Equal(t, int64(3), p.toolCalls.Load())
}

func TestClient_RetryBudgetExhausted(t *testing.T) {
	p := &fakeProvider{name: "memory", failFirst: 100}
	c := NewInProcessClientWithRetry(p, fastRetry(), nil)

	_, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	var rErr *RemoteError
	require.True(t, errors.As(err, &rErr))
	// First attempt plus MaxRetries.
	assert.Equal(t, int64(4), p.toolCalls.Load())
}

func TestClient_PermanentErrorNotRetried(t *testing.T) {
	p := &fakeProvider{name: "memory", toolErr: errors.New("constraint violated")}
	c := NewInProcessClientWithRetry(p, fastRetry(), nil)

	_, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.Error(t, err)
	var rErr *RemoteError
	assert.False(t, errors.As(err, &rErr))
	assert.Equal(t, int64(1), p.toolCalls.Load())
}

func TestClient_DeadlineSurfacesAsTimeout(t *testing.T) {
	p := &fakeProvider{name: "memory", failFirst: 100}
	c := NewInProcessClientWithRetry(p,
		RetryPolicy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, Factor: 2}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	var rErr *RemoteError
	require.True(t, errors.As(err, &rErr))
	assert.True(t, rErr.Timeout)
}

func TestClient_ReadResource(t *testing.T) {
	c := NewInProcessClient(&fakeProvider{name: "memory"}, nil)

	result, err := c.ReadResource(context.Background(), "items/{item_id}", map[string]string{"item_id": "i7"})
	require.NoError(t, err)
	assert.Equal(t, "i7", result["item_id"])
}

func TestClient_ReadResourceMissingParam(t *testing.T) {
	c := NewInProcessClient(&fakeProvider{name: "memory"}, nil)

	_, err := c.ReadResource(context.Background(), "items/{item_id}", map[string]string{})
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestClient_UnknownResource(t *testing.T) {
	c := NewInProcessClient(&fakeProvider{name: "memory"}, nil)

	_, err := c.ReadResource(context.Background(), "missing/{id}", map[string]string{"id": "1"})
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestRetryPolicy_DelayGrowsExponentially(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, Factor: 2, Jitter: 0.2}

	for attempt, base := range []time.Duration{100, 200, 400} {
		want := base * time.Millisecond
		d := p.delay(attempt)
		assert.InDelta(t, float64(want), float64(d), float64(want)*0.2,
			"attempt %d outside jitter band", attempt)
	}
}
