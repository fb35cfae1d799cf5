// ABOUTME: Thread-safe registry mapping logical service names to clients.
// ABOUTME: Exclusively owns ServiceDescriptor status via periodic health probes.

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Transport identifies how a service is reached.
type Transport string

const (
	TransportInProcess Transport = "in_process"
	TransportNetwork   Transport = "network"
)

// Status is a service's last observed health state.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnreachable Status = "unreachable"
)

// unreachableAfter is the consecutive probe-failure threshold.
const unreachableAfter = 3

// ServiceDescriptor describes one registered service. Status is mutated only
// by the Registry's health-check logic; everyone else reads a copy.
type ServiceDescriptor struct {
	Name      string
	Transport Transport
	Endpoint  string
	Status    Status
}

type registryEntry struct {
	desc     ServiceDescriptor
	client   ServiceClient
	failures int // consecutive probe failures
}

// Registry maps logical service names to ServiceClient instances.
// The lock is scoped to register/resolve/health-update only and is never
// held across a client call.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		logger:  logger.With("component", "registry"),
	}
}

// Register stores a service, replacing any existing registration under the
// same name. The replaced client, if any, is closed. A descriptor without an
// explicit status starts healthy.
func (r *Registry) Register(desc ServiceDescriptor, client ServiceClient) {
	if desc.Status == "" {
		desc.Status = StatusHealthy
	}

	r.mu.Lock()
	prev, existed := r.entries[desc.Name]
	r.entries[desc.Name] = &registryEntry{desc: desc, client: client}
	r.mu.Unlock()

	if existed {
		_ = prev.client.Close()
		r.logger.Info("service registration replaced", "service", desc.Name)
		return
	}
	r.logger.Info("service registered",
		"service", desc.Name,
		"transport", desc.Transport,
		"status", desc.Status)
}

// Resolve returns the client registered under name.
func (r *Registry) Resolve(name string) (ServiceClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return entry.client, nil
}

// Descriptor returns a copy of the named service's descriptor.
func (r *Registry) Descriptor(name string) (ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return ServiceDescriptor{}, false
	}
	return entry.desc, true
}

// Descriptors returns copies of all descriptors, sorted by name.
func (r *Registry) Descriptors() []ServiceDescriptor {
	r.mu.RLock()
	descs := make([]ServiceDescriptor, 0, len(r.entries))
	for _, entry := range r.entries {
		descs = append(descs, entry.desc)
	}
	r.mu.RUnlock()

	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Close closes every registered client and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, entry := range r.entries {
		_ = entry.client.Close()
		delete(r.entries, name)
	}
}

// StartHealthLoop probes every registered client on the given interval until
// ctx is cancelled. Each probe carries probeTimeout. Runs in its own
// goroutine; returns immediately.
func (r *Registry) StartHealthLoop(ctx context.Context, interval, probeTimeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.CheckHealth(ctx, probeTimeout)
			}
		}
	}()
}

// CheckHealth probes every registered client once and updates descriptor
// statuses: a success restores healthy, 1..2 consecutive failures mark the
// service degraded, and the third transitions it to unreachable. Exposed for
// tests and for on-demand probing.
func (r *Registry) CheckHealth(ctx context.Context, probeTimeout time.Duration) {
	// Snapshot under read lock; probe without any lock held.
	r.mu.RLock()
	type probe struct {
		name   string
		client ServiceClient
	}
	probes := make([]probe, 0, len(r.entries))
	for name, entry := range r.entries {
		probes = append(probes, probe{name: name, client: entry.client})
	}
	r.mu.RUnlock()

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.client.Ping(probeCtx)
		cancel()
		r.recordProbe(p.name, err)
	}
}

func (r *Registry) recordProbe(name string, probeErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		// Unregistered between snapshot and update.
		return
	}

	prev := entry.desc.Status
	if probeErr == nil {
		entry.failures = 0
		entry.desc.Status = StatusHealthy
	} else {
		entry.failures++
		if entry.failures >= unreachableAfter {
			entry.desc.Status = StatusUnreachable
		} else {
			entry.desc.Status = StatusDegraded
		}
	}

	if entry.desc.Status != prev {
		r.logger.Warn("service status changed",
			"service", name,
			"from", prev,
			"to", entry.desc.Status,
			"consecutive_failures", entry.failures,
			"error", probeErr)
	}
}
