// ABOUTME: Dispatcher validates and routes tool calls and resource reads.
// ABOUTME: Wraps all failures into the unified DispatchError taxonomy.

package mcp

import (
	"context"
	"errors"
	"log/slog"
)

// ToolCall names a side-effecting operation on a service.
type ToolCall struct {
	Service   string
	Name      string
	Arguments map[string]any
}

// ResourceRequest names a read-only fetch on a service.
type ResourceRequest struct {
	Service     string
	URITemplate string
	Parameters  map[string]string
}

// Dispatcher routes tool calls and resource reads to clients resolved from
// the registry. The orchestration layer above never touches a transport:
// swapping an in-process client for a networked one is invisible here.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the registry. Pass nil logger for
// default.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger.With("component", "dispatcher"),
	}
}

// CallTool resolves the named service, refuses the call outright when the
// service is marked unreachable, and forwards to the client. Every failure
// comes back as a *DispatchError.
func (d *Dispatcher) CallTool(ctx context.Context, call ToolCall) (map[string]any, error) {
	client, err := d.admit(call.Service)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("dispatching tool call", "service", call.Service, "tool", call.Name)
	result, err := client.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return nil, d.wrap(call.Service, err)
	}
	return result, nil
}

// ReadResource resolves the named service and forwards the resource read,
// with the same admission and error wrapping as CallTool.
func (d *Dispatcher) ReadResource(ctx context.Context, req ResourceRequest) (map[string]any, error) {
	client, err := d.admit(req.Service)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("dispatching resource read", "service", req.Service, "template", req.URITemplate)
	result, err := client.ReadResource(ctx, req.URITemplate, req.Parameters)
	if err != nil {
		return nil, d.wrap(req.Service, err)
	}
	return result, nil
}

// admit resolves the service and checks its descriptor status. Calls to an
// unreachable service fail fast with KindUnavailable instead of being
// attempted.
func (d *Dispatcher) admit(service string) (ServiceClient, error) {
	client, err := d.registry.Resolve(service)
	if err != nil {
		return nil, &DispatchError{Kind: KindNotFound, Service: service, Detail: err.Error(), Err: err}
	}
	if desc, ok := d.registry.Descriptor(service); ok && desc.Status == StatusUnreachable {
		return nil, &DispatchError{
			Kind:    KindUnavailable,
			Service: service,
			Detail:  "service is unreachable",
		}
	}
	return client, nil
}

func (d *Dispatcher) wrap(service string, err error) *DispatchError {
	kind := KindRemote
	var validationErr *ValidationError
	switch {
	case errors.Is(err, ErrToolNotSupported), errors.Is(err, ErrResourceNotFound):
		kind = KindNotFound
	case errors.As(err, &validationErr):
		kind = KindInvalid
	}
	return &DispatchError{Kind: kind, Service: service, Detail: err.Error(), Err: err}
}
