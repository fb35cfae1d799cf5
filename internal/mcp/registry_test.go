// ABOUTME: Tests for the service registry: registration, resolution, health transitions.
// ABOUTME: Verifies three consecutive probe failures mark a service unreachable.

package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	c := NewInProcessClient(&fakeProvider{name: "memory"}, nil)
	r.Register(ServiceDescriptor{Name: "memory", Transport: TransportInProcess}, c)

	resolved, err := r.Resolve("memory")
	require.NoError(t, err)
	assert.Same(t, ServiceClient(c), resolved)

	desc, ok := r.Descriptor("memory")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, desc.Status)
}

func TestRegistry_ResolveUnknownService(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Resolve("ghost")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestRegistry_RegisterReplacesAndClosesPrevious(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	first := NewInProcessClient(&fakeProvider{name: "memory"}, nil)
	second := NewInProcessClient(&fakeProvider{name: "memory"}, nil)

	r.Register(ServiceDescriptor{Name: "memory", Transport: TransportInProcess}, first)
	r.Register(ServiceDescriptor{Name: "memory", Transport: TransportInProcess}, second)

	resolved, err := r.Resolve("memory")
	require.NoError(t, err)
	assert.Same(t, ServiceClient(second), resolved)

	// The replaced client was closed.
	assert.Error(t, first.Connect(context.Background()))
}

func TestRegistry_HealthTransitions(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	p := &fakeProvider{name: "cognition"}
	r.Register(ServiceDescriptor{Name: "cognition", Transport: TransportInProcess},
		NewInProcessClient(p, nil))

	probe := func() Status {
		r.CheckHealth(context.Background(), time.Second)
		desc, ok := r.Descriptor("cognition")
		require.True(t, ok)
		return desc.Status
	}

	assert.Equal(t, StatusHealthy, probe())

	p.healthErr = errors.New("backend down")
	assert.Equal(t, StatusDegraded, probe())
	assert.Equal(t, StatusDegraded, probe())
	assert.Equal(t, StatusUnreachable, probe(), "third consecutive failure")
	assert.Equal(t, StatusUnreachable, probe())

	p.healthErr = nil
	assert.Equal(t, StatusHealthy, probe(), "success resets the failure streak")
}

func TestRegistry_DescriptorsSorted(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()

	r.Register(ServiceDescriptor{Name: "memory", Transport: TransportInProcess},
		NewInProcessClient(&fakeProvider{name: "memory"}, nil))
	r.Register(ServiceDescriptor{Name: "cognition", Transport: TransportInProcess},
		NewInProcessClient(&fakeProvider{name: "cognition"}, nil))

	descs := r.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "cognition", descs[0].Name)
	assert.Equal(t, "memory", descs[1].Name)
}
