// Package dispatch resolves, validates and runs the tool calls of one
// assistant turn against a tool surface.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/resilience"
	"github.com/aristath/autopilot/internal/tools"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrCancelled   = fmt.Errorf("dispatch cancelled: %w", context.Canceled)
)

// OutcomeKind classifies how an invocation ended.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeUnknownTool      OutcomeKind = "unknown_tool"
	OutcomeInvalidArguments OutcomeKind = "invalid_arguments"
	OutcomeToolError        OutcomeKind = "tool_error"
	OutcomeTransientFailure OutcomeKind = "transient_failure"
	OutcomeCancelled        OutcomeKind = "cancelled"
	OutcomeCircuitOpen      OutcomeKind = "circuit_open"
)

// Outcome is the result of one invocation.
type Outcome struct {
	Kind    OutcomeKind
	Payload string // Tool output on success, error text otherwise
	Err     error
}

// Success reports whether the tool ran and reported no error.
func (o Outcome) Success() bool {
	return o.Kind == OutcomeSuccess
}

// Invocation records one tool-call request and its outcome.
type Invocation struct {
	CallID    string
	Name      string
	Arguments map[string]any
	Origin    string
	Outcome   Outcome
	Attempts  int // Calls made to the surface; 0 for local rejections
	StartedAt time.Time
	Duration  time.Duration
}

// ToolResult converts the invocation into the result stored in a tool turn.
func (inv Invocation) ToolResult() conversation.ToolResult {
	r := conversation.ToolResult{
		CallID:  inv.CallID,
		Name:    inv.Name,
		Success: inv.Outcome.Success(),
		Payload: inv.Outcome.Payload,
	}
	if !r.Success {
		r.ErrorKind = string(inv.Outcome.Kind)
	}
	return r
}

// Gate reports whether dispatch may still start new invocations. It is
// checked immediately before each call reaches the surface.
type Gate func() bool

// Options configures a Dispatcher.
type Options struct {
	Timeout          time.Duration // Per-attempt timeout (default 30s)
	Retry            resilience.RetryConfig // Zero value means resilience.DefaultRetryConfig
	Concurrent       bool // Dispatch the calls of one turn in parallel
	ConcurrencyLimit int  // Max parallel calls when Concurrent (default 4)
	Breakers         *resilience.BreakerRegistry
	Logger           *slog.Logger
	Clock            func() time.Time
}

// Dispatcher runs tool calls against a surface.
type Dispatcher struct {
	surface tools.Surface
	opts    Options
	locks   *OriginLocks
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a dispatcher for surface.
func New(surface tools.Surface, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = 4
	}
	opts.Retry = opts.Retry.WithDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		surface: surface,
		opts:    opts,
		locks:   NewOriginLocks(),
		logger:  logger,
		now:     now,
	}
}

// Dispatch runs every call and returns exactly one Invocation per call, in
// call order, regardless of completion order.
func (d *Dispatcher) Dispatch(ctx context.Context, set *tools.Set, calls []conversation.ToolCall, gate Gate) []Invocation {
	results := make([]Invocation, len(calls))

	if !d.opts.Concurrent || len(calls) < 2 {
		for i, call := range calls {
			results[i] = d.dispatchOne(ctx, set, call, gate)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(d.opts.ConcurrencyLimit)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.dispatchOne(ctx, set, call, gate)
			return nil
		})
	}
	g.Wait()
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, set *tools.Set, call conversation.ToolCall, gate Gate) Invocation {
	inv := Invocation{
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		StartedAt: d.now(),
	}
	defer func() {
		inv.Duration = d.now().Sub(inv.StartedAt)
	}()

	desc, ok := set.Lookup(call.Name)
	if !ok {
		inv.Outcome = reject(OutcomeUnknownTool, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name))
		return inv
	}
	inv.Origin = desc.Origin

	if call.DecodeError != "" {
		inv.Outcome = reject(OutcomeInvalidArguments,
			fmt.Errorf("%w for %q: arguments are not a JSON object: %s", tools.ErrInvalidArguments, call.Name, call.DecodeError))
		return inv
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := tools.ValidateArguments(desc, args); err != nil {
		inv.Outcome = reject(OutcomeInvalidArguments, err)
		return inv
	}

	if d.opts.Concurrent {
		if err := d.locks.Lock(ctx, desc.Origin); err != nil {
			inv.Outcome = reject(OutcomeCancelled, err)
			return inv
		}
		defer d.locks.Unlock(desc.Origin)
	}

	if ctx.Err() != nil || (gate != nil && !gate()) {
		inv.Outcome = reject(OutcomeCancelled, ErrCancelled)
		return inv
	}

	cb := d.breaker(desc.Origin)
	result, attempts, err := resilience.Retry(ctx, cb, d.opts.Retry, tools.IsTransient,
		func(ctx context.Context) (tools.Result, error) {
			if gate != nil && !gate() {
				return tools.Result{}, ErrCancelled
			}
			callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
			defer cancel()
			res, err := d.surface.Invoke(callCtx, call.Name, args)
			if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return res, tools.Transient("invoke "+call.Name, fmt.Errorf("timed out after %s: %w", d.opts.Timeout, err))
			}
			return res, err
		})
	inv.Attempts = attempts
	inv.Outcome = classify(ctx, result, err)

	if !inv.Outcome.Success() {
		d.logger.Debug("tool invocation failed",
			"tool", call.Name, "call_id", call.ID, "kind", inv.Outcome.Kind, "attempts", attempts)
	}
	return inv
}

func (d *Dispatcher) breaker(origin string) *gobreaker.CircuitBreaker {
	if d.opts.Breakers == nil {
		return nil
	}
	return d.opts.Breakers.Get("tools:" + origin)
}

func reject(kind OutcomeKind, err error) Outcome {
	return Outcome{Kind: kind, Payload: err.Error(), Err: err}
}

func classify(ctx context.Context, result tools.Result, err error) Outcome {
	switch {
	case err == nil && result.IsError:
		return Outcome{Kind: OutcomeToolError, Payload: result.Content}
	case err == nil:
		return Outcome{Kind: OutcomeSuccess, Payload: result.Content}
	case ctx.Err() != nil || errors.Is(err, ErrCancelled):
		return reject(OutcomeCancelled, err)
	case resilience.IsCircuitOpen(err):
		return reject(OutcomeCircuitOpen, err)
	case tools.IsTransient(err):
		return reject(OutcomeTransientFailure, err)
	default:
		return reject(OutcomeToolError, err)
	}
}
