package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
)

var (
	ErrDuplicateTool = errors.New("duplicate tool name")
	ErrToolNameEmpty = errors.New("tool name is empty")
	ErrNotConnected  = errors.New("tool surface not connected")
)

// Descriptor describes one tool offered by a surface.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"input_schema,omitempty"`
	Origin      string         `json:"origin"` // Which surface provides the tool
}

// Result is what a surface returns for a completed invocation.
// IsError marks a failure reported by the tool itself; such failures are
// not retried.
type Result struct {
	Content string
	IsError bool
}

// Surface is the external tool-execution interface.
type Surface interface {
	// ListTools returns the tools currently offered.
	ListTools(ctx context.Context) ([]Descriptor, error)

	// Invoke runs a tool. Transport-level failures are returned as errors;
	// tool-reported failures come back as Result.IsError.
	Invoke(ctx context.Context, name string, arguments map[string]any) (Result, error)

	// Ping checks connection liveness.
	Ping(ctx context.Context) error

	// Reconnect re-establishes the connection.
	Reconnect(ctx context.Context) error

	// Close releases the surface.
	Close() error
}

// TransientError marks a failure worth retrying (timeouts, transport errors).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried.
// Explicit TransientError wrappers, network errors and deadline overruns of
// a single attempt count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Set is an immutable, name-indexed set of descriptors.
type Set struct {
	byName map[string]Descriptor
	order  []string
}

// NewSet builds a set, rejecting empty or duplicate names.
func NewSet(descriptors []Descriptor) (*Set, error) {
	s := &Set{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, ErrToolNameEmpty
		}
		if _, exists := s.byName[d.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTool, d.Name)
		}
		s.byName[d.Name] = d
		s.order = append(s.order, d.Name)
	}
	return s, nil
}

// Lookup returns the descriptor for name.
func (s *Set) Lookup(name string) (Descriptor, bool) {
	if s == nil {
		return Descriptor{}, false
	}
	d, ok := s.byName[name]
	return d, ok
}

// Descriptors returns the descriptors in registration order.
func (s *Set) Descriptors() []Descriptor {
	if s == nil {
		return nil
	}
	out := make([]Descriptor, len(s.order))
	for i, name := range s.order {
		out[i] = s.byName[name]
	}
	return out
}

// Names returns the tool names sorted alphabetically.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.order))
	copy(names, s.order)
	sort.Strings(names)
	return names
}

// Len returns the number of tools in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}
