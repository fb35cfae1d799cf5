// ABOUTME: ServiceClient contract plus the in-process implementation with retry policy.
// ABOUTME: Providers declare explicit tool/resource tables; transient failures get backoff.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// ToolHandler executes one tool call with already-validated arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ResourceHandler serves one resource read with already-validated parameters.
type ResourceHandler func(ctx context.Context, params map[string]string) (map[string]any, error)

// ToolDef declares a tool in a provider's registration table.
type ToolDef struct {
	Name        string
	Description string
	Schema      *Schema
	Handler     ToolHandler
}

// ResourceDef declares a resource in a provider's registration table.
type ResourceDef struct {
	Template    string
	Description string
	Handler     ResourceHandler
}

// Provider is implemented by in-process services (memory, cognition). The
// registration tables are read once at client construction, so dispatch is a
// map lookup plus schema check.
type Provider interface {
	Name() string
	Tools() []ToolDef
	Resources() []ResourceDef
	Healthy(ctx context.Context) error
}

// ServiceClient manages a logical connection to a tool/resource provider.
type ServiceClient interface {
	// Connect is idempotent; connecting an already-connected client is a
	// successful no-op.
	Connect(ctx context.Context) error
	// CallTool invokes a named tool. Fails with ErrToolNotSupported, a
	// *ValidationError when arguments fail the tool's schema, or a
	// *RemoteError when the underlying call failed after retries.
	CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	// ReadResource serves a resource read addressed by URI template.
	ReadResource(ctx context.Context, template string, params map[string]string) (map[string]any, error)
	// Ping probes provider health.
	Ping(ctx context.Context) error
	// Close releases transport resources; safe to call multiple times.
	Close() error
}

// RetryPolicy bounds retries of transient remote failures. Validation and
// unsupported-tool errors are never retried.
type RetryPolicy struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // first backoff delay
	Factor     float64       // backoff multiplier per retry
	Jitter     float64       // fraction of the delay randomized both ways
}

// DefaultRetryPolicy retries transient failures up to 3 times with
// exponential backoff: 100ms base, factor 2, jitter +/-20%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, Factor: 2, Jitter: 0.2}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// InProcessClient is the ServiceClient implementation for providers living
// in the same process. There is no wire transport, but the retry and
// deadline semantics match what a networked client would provide so the
// layers above cannot tell the difference.
type InProcessClient struct {
	provider  Provider
	tools     map[string]ToolDef
	resources map[string]ResourceDef
	retry     RetryPolicy
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewInProcessClient builds a client over the provider's registration
// tables using the default retry policy. Pass nil logger for default.
func NewInProcessClient(provider Provider, logger *slog.Logger) *InProcessClient {
	return NewInProcessClientWithRetry(provider, DefaultRetryPolicy(), logger)
}

// NewInProcessClientWithRetry builds a client with an explicit retry policy.
func NewInProcessClientWithRetry(provider Provider, retry RetryPolicy, logger *slog.Logger) *InProcessClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &InProcessClient{
		provider:  provider,
		tools:     make(map[string]ToolDef),
		resources: make(map[string]ResourceDef),
		retry:     retry,
		logger:    logger.With("component", "mcp-client", "service", provider.Name()),
	}
	for _, t := range provider.Tools() {
		c.tools[t.Name] = t
	}
	for _, r := range provider.Resources() {
		c.resources[r.Template] = r
	}
	return c
}

// Connect marks the client connected. Idempotent.
func (c *InProcessClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client for %s is closed", c.provider.Name())
	}
	if c.connected {
		return nil
	}
	c.connected = true
	c.logger.Debug("client connected")
	return nil
}

// CallTool validates arguments against the tool's declared schema and
// invokes its handler, retrying transient failures per the retry policy.
func (c *InProcessClient) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	tool, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrToolNotSupported, c.provider.Name(), name)
	}
	if tool.Schema != nil {
		if err := tool.Schema.Validate(args); err != nil {
			return nil, err
		}
	}
	return c.withRetry(ctx, "tool "+name, func(ctx context.Context) (map[string]any, error) {
		return tool.Handler(ctx, args)
	})
}

// ReadResource expands the URI template (validating parameter presence) and
// invokes the resource handler, retrying transient failures.
func (c *InProcessClient) ReadResource(ctx context.Context, template string, params map[string]string) (map[string]any, error) {
	res, ok := c.resources[template]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrResourceNotFound, c.provider.Name(), template)
	}
	uri, err := ExpandTemplate(template, params)
	if err != nil {
		return nil, err
	}
	return c.withRetry(ctx, "resource "+uri, func(ctx context.Context) (map[string]any, error) {
		return res.Handler(ctx, params)
	})
}

// Ping probes the provider.
func (c *InProcessClient) Ping(ctx context.Context) error {
	return c.provider.Healthy(ctx)
}

// Close releases the client. Safe to call multiple times.
func (c *InProcessClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.closed = true
	return nil
}

// withRetry runs fn, retrying *RemoteError failures with exponential backoff
// until the retry budget is exhausted or ctx expires. A deadline overrun is
// surfaced as RemoteError{Timeout: true}.
func (c *InProcessClient) withRetry(ctx context.Context, op string, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retry.delay(attempt - 1)):
			case <-ctx.Done():
				return nil, &RemoteError{Detail: op + ": " + ctx.Err().Error(), Timeout: true, Err: ctx.Err()}
			}
			c.logger.Debug("retrying transient failure", "op", op, "attempt", attempt)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &RemoteError{Detail: op + ": " + err.Error(), Timeout: true, Err: err}
		}

		var remoteErr *RemoteError
		if !errors.As(err, &remoteErr) {
			// Validation, unsupported-tool and other non-transient
			// failures escape immediately.
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%s: retry budget exhausted: %w", op, lastErr)
}
