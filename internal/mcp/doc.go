// Package mcp implements the Model Context Protocol dispatch layer used to
// reach the memory and cognition services.
//
// # Overview
//
// MCP is a tool/resource calling convention independent of transport. A Tool
// is a named, side-effecting operation invoked with a validated argument map;
// a Resource is a read-only fetch addressed by a parameterized URI template
// such as history/{conversation_id}.
//
// # Architecture
//
// Components:
//
//   - ServiceClient: manages a logical connection to one tool/resource
//     provider; owns argument validation, retries and backoff.
//   - Registry: maps logical service names to clients and exclusively owns
//     ServiceDescriptor health status.
//   - Dispatcher: validates and routes ToolCall / ResourceRequest values to a
//     resolved client, wrapping every failure into a typed DispatchError.
//
// The orchestration layer above never talks to a transport directly:
// swapping an in-process client for a networked one is invisible above the
// Dispatcher boundary.
//
// # Registration
//
// Providers declare their tools and resources in an explicit registration
// table built at startup, so dispatch is a lookup plus schema check:
//
//	client := mcp.NewInProcessClient(provider, logger)
//	registry.Register(mcp.ServiceDescriptor{
//	    Name:      provider.Name(),
//	    Transport: mcp.TransportInProcess,
//	}, client)
package mcp
