// Package orchestrator drives a goal to completion by alternating between
// the reasoning service and the tool surface until the evaluator reports
// completion or failure, the iteration limit is reached, or the task is
// cancelled.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/autopilot/internal/cancel"
	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/dispatch"
	"github.com/aristath/autopilot/internal/evaluator"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/reasoning"
	"github.com/aristath/autopilot/internal/tools"
)

// DefaultIterationLimit bounds a task when no limit is given.
const DefaultIterationLimit = 25

const defaultSystemPrompt = "You are an autonomous assistant that completes tasks by calling the tools you are given. " +
	"Work step by step, call one or more tools per turn, and read their results before deciding the next step. " +
	"Do not ask the user for help; decide on your own. When the task is done, reply with a short final answer."

// Deps are the collaborators of an engine. Reasoning and Surface are
// required; the rest are built from Config when nil.
type Deps struct {
	Reasoning  reasoning.Service
	Surface    tools.Surface
	Store      *conversation.Store
	Evaluator  *evaluator.Evaluator
	Dispatcher *dispatch.Dispatcher
	Bus        *events.Bus // Optional
	Archive    Archive     // Optional
	Logger     *slog.Logger
	Clock      func() time.Time
	NewID      func() string
}

// Config tunes the engine.
type Config struct {
	IterationLimit    int
	SystemPrompt      string
	GuideWithNextStep bool // Turn a verdict's next step into a user nudge
	Strategy          Strategy
	Retention         conversation.RetentionPolicy
	Dispatch          dispatch.Options
	EvalAttempts      int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		IterationLimit:    DefaultIterationLimit,
		SystemPrompt:      defaultSystemPrompt,
		GuideWithNextStep: true,
		Strategy:          Batch{},
		Retention:         conversation.DefaultRetentionPolicy(),
		EvalAttempts:      3,
	}
}

// Engine runs one task at a time.
type Engine struct {
	reasoning  reasoning.Service
	surface    tools.Surface
	store      *conversation.Store
	eval       *evaluator.Evaluator
	dispatcher *dispatch.Dispatcher
	cancel     *cancel.Controller
	bus        *events.Bus
	archive    Archive
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	cfg        Config

	running        atomic.Bool
	active         atomic.Pointer[Task]
	needsReconnect atomic.Bool

	// stepMu orders step appends against cancellation signals, so no turn
	// lands after a cancel has been issued.
	stepMu sync.Mutex

	submitMu sync.Mutex
	current  *Handle
}

// NewEngine wires an engine from its collaborators.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if deps.Reasoning == nil {
		return nil, errors.New("engine requires a reasoning service")
	}
	if deps.Surface == nil {
		return nil, errors.New("engine requires a tool surface")
	}
	if cfg.IterationLimit <= 0 {
		cfg.IterationLimit = DefaultIterationLimit
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Strategy == nil {
		cfg.Strategy = Batch{}
	}

	e := &Engine{
		reasoning:  deps.Reasoning,
		surface:    deps.Surface,
		store:      deps.Store,
		eval:       deps.Evaluator,
		dispatcher: deps.Dispatcher,
		cancel:     cancel.NewController(),
		bus:        deps.Bus,
		archive:    deps.Archive,
		logger:     deps.Logger,
		now:        deps.Clock,
		newID:      deps.NewID,
		cfg:        cfg,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}

	if e.store == nil {
		var sum conversation.Summarizer
		if cfg.Retention.Summarize {
			sum = reasoning.Summarizer{Service: deps.Reasoning}
		}
		e.store = conversation.NewStore(conversation.Options{
			Policy:     cfg.Retention,
			Summarizer: sum,
			Logger:     e.logger.With("component", "conversation"),
			Clock:      e.now,
		})
	}
	if e.eval == nil {
		e.eval = evaluator.New(deps.Reasoning, evaluator.Options{
			Attempts: cfg.EvalAttempts,
			Logger:   e.logger.With("component", "evaluator"),
			OnDegraded: func(reason string) {
				e.publishDegraded("evaluator", reason)
			},
		})
	}
	if e.dispatcher == nil {
		opts := cfg.Dispatch
		if opts.Logger == nil {
			opts.Logger = e.logger.With("component", "dispatch")
		}
		e.dispatcher = dispatch.New(deps.Surface, opts)
	}

	// Runs with stepMu held: see Reset.
	e.cancel.OnReset(e.store.Clear)
	return e, nil
}

// Store exposes the conversation for display.
func (e *Engine) Store() *conversation.Store {
	return e.store
}

// Reasoning returns the reasoning service the engine plans with.
func (e *Engine) Reasoning() reasoning.Service {
	return e.reasoning
}

// Strategy returns the configured strategy.
func (e *Engine) Strategy() Strategy {
	return e.cfg.Strategy
}

// Running reports whether a task is in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Interrupt stops the running task if the strategy allows it, keeping the
// conversation. It reports whether a task was signalled.
func (e *Engine) Interrupt() bool {
	if !e.cfg.Strategy.Interruptible() {
		return false
	}
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.cancel.Interrupt()
}

// Reset stops any running task and clears the conversation.
func (e *Engine) Reset() {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	e.cancel.Reset()
}

// RunTask drives goal to a terminal status and returns the result. A nil
// set means the tools are listed from the surface. limit <= 0 uses the
// configured iteration limit. The returned error is only set when the task
// could not be started.
func (e *Engine) RunTask(ctx context.Context, goal string, set *tools.Set, limit int) (TaskResult, error) {
	return e.run(ctx, e.newID(), goal, set, limit)
}

func (e *Engine) run(ctx context.Context, id, goal string, set *tools.Set, limit int) (TaskResult, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return TaskResult{}, ErrEmptyGoal
	}
	if limit <= 0 {
		limit = e.cfg.IterationLimit
	}
	if !e.running.CompareAndSwap(false, true) {
		return TaskResult{}, ErrBusy
	}
	defer e.running.Store(false)

	e.stepMu.Lock()
	tok, ctx := e.cancel.Begin(ctx)
	e.stepMu.Unlock()
	defer e.cancel.Release(tok)

	task := newTask(id, goal, e.now())
	e.active.Store(task)
	defer e.active.Store(nil)

	r := &taskRun{
		engine: e,
		task:   task,
		tok:    tok,
		limit:  limit,
		seen:   make(map[string]bool),
		logger: e.logger.With("task_id", id),
	}
	return r.execute(ctx, set), nil
}

// ensureLive pings the tool surface and reconnects it when the ping
// fails or an earlier task saw the session end. The conversation is
// untouched either way.
func (e *Engine) ensureLive(ctx context.Context) {
	reason := ""
	if e.needsReconnect.Swap(false) {
		reason = "previous task reported a terminated session"
	} else if err := e.surface.Ping(ctx); err != nil {
		reason = err.Error()
	}
	if reason == "" {
		return
	}

	e.logger.Info("reconnecting tool surface", "reason", reason)
	if err := e.surface.Reconnect(ctx); err != nil {
		e.logger.Warn("tool surface reconnect failed", "error", err, "degraded", true)
		e.publishDegraded("tools", "reconnect failed: "+err.Error())
	}
}

func (e *Engine) discoverTools(ctx context.Context) (*tools.Set, error) {
	descs, err := e.surface.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return tools.NewSet(descs)
}

func (e *Engine) publishDegraded(component, reason string) {
	id := ""
	if t := e.active.Load(); t != nil {
		id = t.ID
	}
	e.bus.Publish(events.DegradedEvent{ID: id, Component: component, Reason: reason, Timestamp: e.now()})
}

// sessionEnded matches tool errors that mean the surface lost its session.
func sessionEnded(payload string) bool {
	p := strings.ToLower(payload)
	if !strings.Contains(p, "session") && !strings.Contains(p, "browser") {
		return false
	}
	for _, hint := range []string{"terminated", "expired", "closed", "not found"} {
		if strings.Contains(p, hint) {
			return true
		}
	}
	return false
}
