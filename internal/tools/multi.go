package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Multi fans a set of surfaces into one. Tool names are resolved to the
// surface that listed them; when two surfaces offer the same name the
// earlier surface wins.
type Multi struct {
	surfaces []Surface

	mu     sync.RWMutex
	routes map[string]Surface
}

// NewMulti combines surfaces in priority order.
func NewMulti(surfaces ...Surface) *Multi {
	return &Multi{
		surfaces: surfaces,
		routes:   make(map[string]Surface),
	}
}

// ListTools lists every surface and refreshes the routing table.
func (m *Multi) ListTools(ctx context.Context) ([]Descriptor, error) {
	routes := make(map[string]Surface)
	var all []Descriptor

	for _, s := range m.surfaces {
		descriptors, err := s.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range descriptors {
			if _, taken := routes[d.Name]; taken {
				continue
			}
			routes[d.Name] = s
			all = append(all, d)
		}
	}

	m.mu.Lock()
	m.routes = routes
	m.mu.Unlock()

	return all, nil
}

// Invoke routes the call to the surface that offers name.
func (m *Multi) Invoke(ctx context.Context, name string, arguments map[string]any) (Result, error) {
	m.mu.RLock()
	s, ok := m.routes[name]
	m.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("no surface offers tool %q", name)
	}
	return s.Invoke(ctx, name, arguments)
}

// Ping fails if any surface is unreachable.
func (m *Multi) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range m.surfaces {
		if err := s.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reconnect reconnects only the surfaces that fail a ping.
func (m *Multi) Reconnect(ctx context.Context) error {
	var errs []error
	for _, s := range m.surfaces {
		if s.Ping(ctx) == nil {
			continue
		}
		if err := s.Reconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every surface.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.surfaces {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
