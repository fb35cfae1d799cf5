// ABOUTME: Error taxonomy for the MCP dispatch layer.
// ABOUTME: Sentinel errors plus typed ValidationError, RemoteError and DispatchError.

package mcp

import (
	"errors"
	"fmt"
)

// ErrServiceNotFound indicates the named service is not registered.
var ErrServiceNotFound = errors.New("service not found")

// ErrToolNotSupported indicates the named tool is not declared by the service.
var ErrToolNotSupported = errors.New("tool not supported")

// ErrResourceNotFound indicates no resource is declared for the URI template.
var ErrResourceNotFound = errors.New("resource not found")

// ValidationError reports malformed caller input: arguments that fail the
// tool's schema or a URI template parameter that is missing. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Reason)
}

// RemoteError reports a failed underlying call (network/timeout class).
// Transient by definition; the client retries it per its retry policy before
// letting it escape.
type RemoteError struct {
	Detail  string
	Timeout bool
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("remote call timed out: %s", e.Detail)
	}
	return fmt.Sprintf("remote call failed: %s", e.Detail)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// DispatchKind classifies dispatcher-level failures for callers that need to
// branch without inspecting lower-level error types.
type DispatchKind string

const (
	// KindNotFound: unknown service, tool or resource (configuration error).
	KindNotFound DispatchKind = "not_found"
	// KindInvalid: arguments or parameters failed validation.
	KindInvalid DispatchKind = "invalid"
	// KindUnavailable: the service descriptor is unreachable; no call was
	// attempted.
	KindUnavailable DispatchKind = "unavailable"
	// KindRemote: the underlying call failed after the client's retry budget
	// was exhausted.
	KindRemote DispatchKind = "remote"
)

// DispatchError is the unified error surfaced by the Dispatcher. It always
// wraps the originating error so errors.Is/As continue to work.
type DispatchError struct {
	Kind    DispatchKind
	Service string
	Detail  string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s [%s]: %s", e.Kind, e.Service, e.Detail)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Retriable reports whether the orchestration layer should treat the failure
// as transient backend trouble (unavailable/remote) rather than a caller or
// configuration error.
func (e *DispatchError) Retriable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindRemote
}
