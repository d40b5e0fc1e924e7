package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/autopilot/internal/cancel"
	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/dispatch"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/persistence"
	"github.com/aristath/autopilot/internal/reasoning"
	"github.com/aristath/autopilot/internal/resilience"
	"github.com/aristath/autopilot/internal/tools"
)

// mockReasoning scripts the reasoning service. plan answers Plan calls by
// call number; evaluation replies are consumed in order, then evalDefault
// repeats.
type mockReasoning struct {
	mu          sync.Mutex
	plan        func(ctx context.Context, n int) (conversation.Turn, error)
	evals       []string
	evalDefault string
	planCalls   int
	evalCalls   int
	transcripts [][]conversation.Turn
}

func (m *mockReasoning) Plan(ctx context.Context, transcript []conversation.Turn, available []tools.Descriptor) (conversation.Turn, error) {
	m.mu.Lock()
	m.planCalls++
	n := m.planCalls
	m.transcripts = append(m.transcripts, transcript)
	plan := m.plan
	m.mu.Unlock()
	return plan(ctx, n)
}

func (m *mockReasoning) Complete(ctx context.Context, req reasoning.CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evalCalls++
	if len(m.evals) > 0 {
		next := m.evals[0]
		m.evals = m.evals[1:]
		return next, nil
	}
	return m.evalDefault, nil
}

func (m *mockReasoning) counts() (plans, evals int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planCalls, m.evalCalls
}

func (m *mockReasoning) transcript(n int) []conversation.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcripts[n-1]
}

// mockSurface is a scripted tool surface.
type mockSurface struct {
	mu         sync.Mutex
	invoke     func(ctx context.Context, name string, args map[string]any) (tools.Result, error)
	invoked    []string
	pingErr    error
	pings      int
	reconnects int
}

func (m *mockSurface) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	return testDescriptors(), nil
}

func (m *mockSurface) Invoke(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	m.mu.Lock()
	m.invoked = append(m.invoked, name)
	fn := m.invoke
	m.mu.Unlock()
	if fn == nil {
		return tools.Result{Content: "ok: " + name}, nil
	}
	return fn(ctx, name, args)
}

func (m *mockSurface) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings++
	return m.pingErr
}

func (m *mockSurface) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	m.pingErr = nil
	return nil
}

func (m *mockSurface) Close() error { return nil }

func (m *mockSurface) invocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invoked)
}

func (m *mockSurface) reconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

func testDescriptors() []tools.Descriptor {
	return []tools.Descriptor{
		{Name: "navigate", Origin: "browser", Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []any{"url"},
		}},
		{Name: "click", Origin: "browser"},
	}
}

func navigateCall(id string) conversation.Turn {
	return conversation.AssistantTurn("", []conversation.ToolCall{
		{ID: id, Name: "navigate", Arguments: map[string]any{"url": "https://example.com"}},
	})
}

func alwaysNavigate(ctx context.Context, n int) (conversation.Turn, error) {
	return navigateCall(fmt.Sprintf("call-%d", n)), nil
}

func answer(text string) func(context.Context, int) (conversation.Turn, error) {
	return func(ctx context.Context, n int) (conversation.Turn, error) {
		return conversation.AssistantTurn(text, nil), nil
	}
}

const (
	evalContinue = `{"status":"continue","rationale":"more to do","progress":40,"accomplished":"opened the page"}`
	evalComplete = `{"status":"complete","rationale":"done","progress":100,"accomplished":"found the answer"}`
)

func newTestEngine(t *testing.T, r *mockReasoning, s *mockSurface, mutate func(*Config, *Deps)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dispatch = dispatch.Options{
		Timeout: time.Second,
		Retry: resilience.RetryConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxElapsedTime:  time.Second,
			Multiplier:      2,
		},
	}
	deps := Deps{
		Reasoning: r,
		Surface:   s,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	e, err := NewEngine(deps, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func countRole(turns []conversation.Turn, role conversation.Role) int {
	n := 0
	for _, t := range turns {
		if t.Role == role {
			n++
		}
	}
	return n
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestRunTask_IncompleteAtIterationLimit(t *testing.T) {
	r := &mockReasoning{plan: alwaysNavigate, evalDefault: evalContinue}
	s := &mockSurface{}
	e := newTestEngine(t, r, s, nil)

	res, err := e.RunTask(context.Background(), "do X", nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusIncomplete || !errors.Is(res.Err, ErrBudgetExhausted) {
		t.Fatalf("status = %s err = %v, want incomplete", res.Status, res.Err)
	}
	if res.Iterations != 3 || len(res.Records) != 3 {
		t.Errorf("iterations = %d records = %d, want 3", res.Iterations, len(res.Records))
	}
	if got := len(res.Invocations()); got != 3 {
		t.Errorf("invocations = %d, want 3", got)
	}
	plans, evals := r.counts()
	if plans != 3 || evals != 3 {
		t.Errorf("plan calls = %d eval calls = %d, want 3 each", plans, evals)
	}
	if got := countRole(e.Store().Snapshot(), conversation.RoleTool); got != 3 {
		t.Errorf("tool turns = %d, want 3", got)
	}
	if !strings.Contains(res.Summary, "40%") || !strings.Contains(res.Summary, "opened the page") {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestRunTask_UnknownToolNeverInvoked(t *testing.T) {
	r := &mockReasoning{
		plan: func(ctx context.Context, n int) (conversation.Turn, error) {
			return conversation.AssistantTurn("", []conversation.ToolCall{{ID: "c1", Name: "teleport"}}), nil
		},
		evalDefault: evalComplete,
	}
	s := &mockSurface{}
	e := newTestEngine(t, r, s, nil)

	res, err := e.RunTask(context.Background(), "do X", nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if s.invocationCount() != 0 {
		t.Errorf("surface invoked %d times", s.invocationCount())
	}

	var toolTurn *conversation.Turn
	for _, turn := range e.Store().Snapshot() {
		if turn.Role == conversation.RoleTool {
			toolTurn = &turn
		}
	}
	if toolTurn == nil || toolTurn.Result.Success || toolTurn.Result.ErrorKind != "unknown_tool" {
		t.Errorf("tool turn = %+v", toolTurn)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %s", res.Status)
	}
}

func TestRunTask_MalformedEvaluationThenComplete(t *testing.T) {
	r := &mockReasoning{
		plan:  answer("The capital is Lisbon."),
		evals: []string{`{"status": `, "<<garbage>>", evalComplete},
	}
	e := newTestEngine(t, r, &mockSurface{}, nil)

	res, err := e.RunTask(context.Background(), "what is the capital of Portugal", nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted || res.Iterations != 1 {
		t.Fatalf("status = %s iterations = %d", res.Status, res.Iterations)
	}
	if _, evals := r.counts(); evals != 3 {
		t.Errorf("eval calls = %d, want 3", evals)
	}
	if v, _ := res.LastVerdict(); v.Attempts != 3 {
		t.Errorf("verdict attempts = %d", v.Attempts)
	}
	if res.Summary != "found the answer" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestRunTask_EvaluationFailuresAreDegradedNotFatal(t *testing.T) {
	r := &mockReasoning{plan: answer("thinking"), evalDefault: "{{{"}
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.SubscribeAll(256)

	e := newTestEngine(t, r, &mockSurface{}, func(c *Config, d *Deps) { d.Bus = bus })

	res, err := e.RunTask(context.Background(), "do X", nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusIncomplete || res.Iterations != 2 {
		t.Fatalf("status = %s iterations = %d", res.Status, res.Iterations)
	}
	v, _ := res.LastVerdict()
	if !v.Degraded() {
		t.Errorf("verdict not degraded: %+v", v)
	}

	degraded := 0
	for _, ev := range drain(sub) {
		if d, ok := ev.(events.DegradedEvent); ok && d.Component == "evaluator" {
			degraded++
			if d.TaskID() != res.TaskID {
				t.Errorf("degraded event task = %q", d.TaskID())
			}
		}
	}
	if degraded != 2 {
		t.Errorf("degraded events = %d, want 2", degraded)
	}
}

func TestRunTask_ReasoningErrorFails(t *testing.T) {
	authErr := &reasoning.Error{Kind: reasoning.KindAuth, StatusCode: 401, Err: errors.New("bad key")}
	r := &mockReasoning{plan: func(ctx context.Context, n int) (conversation.Turn, error) {
		return conversation.Turn{}, authErr
	}}
	e := newTestEngine(t, r, &mockSurface{}, nil)

	res, err := e.RunTask(context.Background(), "do X", nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailed || reasoning.KindOf(res.Err) != reasoning.KindAuth {
		t.Errorf("status = %s err = %v", res.Status, res.Err)
	}
	if res.Iterations != 0 {
		t.Errorf("iterations = %d", res.Iterations)
	}
}

func TestRunTask_FailedVerdict(t *testing.T) {
	r := &mockReasoning{plan: answer("cannot log in"), evalDefault: `{"status":"failed","rationale":"account locked"}`}
	e := newTestEngine(t, r, &mockSurface{}, nil)

	res, _ := e.RunTask(context.Background(), "log in", nil, 5)
	if res.Status != StatusFailed || !errors.Is(res.Err, ErrTaskFailed) {
		t.Errorf("status = %s err = %v", res.Status, res.Err)
	}
}

func TestRunTask_InterruptDuringToolCallDiscardsStep(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	s := &mockSurface{invoke: func(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return tools.Result{}, ctx.Err()
	}}
	r := &mockReasoning{plan: alwaysNavigate, evalDefault: evalContinue}
	e := newTestEngine(t, r, s, func(c *Config, d *Deps) { c.Strategy = Interactive{} })

	done := make(chan TaskResult, 1)
	go func() {
		res, _ := e.RunTask(context.Background(), "do X", nil, 5)
		done <- res
	}()

	<-started
	before := e.Store().Snapshot()
	if !e.Interrupt() {
		t.Fatal("interrupt reported no running task")
	}

	var res TaskResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not stop after interrupt")
	}

	if res.Status != StatusCancelled || !errors.Is(res.Err, cancel.ErrInterrupted) {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	after := e.Store().Snapshot()
	if len(after) != len(before) {
		t.Errorf("turns after cancel = %d, before = %d", len(after), len(before))
	}
	if countRole(after, conversation.RoleAssistant) != 0 {
		t.Error("assistant turn of the cancelled step was appended")
	}
	if _, evals := r.counts(); evals != 0 {
		t.Errorf("evaluator ran %d times after cancellation", evals)
	}
}

func TestRunTask_ContextCancelDuringPlanning(t *testing.T) {
	planning := make(chan struct{})
	r := &mockReasoning{plan: func(ctx context.Context, n int) (conversation.Turn, error) {
		close(planning)
		<-ctx.Done()
		return conversation.Turn{}, ctx.Err()
	}}
	e := newTestEngine(t, r, &mockSurface{}, nil)

	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan TaskResult, 1)
	go func() {
		res, _ := e.RunTask(ctx, "do X", nil, 5)
		done <- res
	}()

	<-planning
	if e.Interrupt() {
		t.Error("batch strategy accepted an interrupt")
	}
	cancelCtx()

	res := <-done
	if res.Status != StatusCancelled || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("status = %s err = %v", res.Status, res.Err)
	}
}

func TestRunTask_BusyWhileRunning(t *testing.T) {
	planning := make(chan struct{})
	release := make(chan struct{})
	r := &mockReasoning{
		plan: func(ctx context.Context, n int) (conversation.Turn, error) {
			if n == 1 {
				close(planning)
				<-release
			}
			return conversation.AssistantTurn("done", nil), nil
		},
		evalDefault: evalComplete,
	}
	e := newTestEngine(t, r, &mockSurface{}, nil)

	done := make(chan struct{})
	go func() {
		e.RunTask(context.Background(), "first", nil, 5)
		close(done)
	}()
	<-planning

	if _, err := e.RunTask(context.Background(), "second", nil, 5); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	close(release)
	<-done

	if _, err := e.RunTask(context.Background(), "  ", nil, 5); !errors.Is(err, ErrEmptyGoal) {
		t.Errorf("err = %v, want ErrEmptyGoal", err)
	}
}

func TestRunTask_CallIDsUniquePerTask(t *testing.T) {
	r := &mockReasoning{
		plan: func(ctx context.Context, n int) (conversation.Turn, error) {
			return conversation.AssistantTurn("", []conversation.ToolCall{
				{ID: "dup", Name: "click"},
				{ID: "dup", Name: "click"},
				{Name: "click"},
			}), nil
		},
		evalDefault: evalContinue,
	}
	e := newTestEngine(t, r, &mockSurface{}, nil)

	res, _ := e.RunTask(context.Background(), "do X", nil, 2)

	seen := map[string]bool{}
	for _, inv := range res.Invocations() {
		if inv.CallID == "" || seen[inv.CallID] {
			t.Errorf("call id %q empty or repeated", inv.CallID)
		}
		seen[inv.CallID] = true
	}
	if len(seen) != 6 {
		t.Errorf("unique call ids = %d, want 6", len(seen))
	}

	// Tool turns follow their assistant turn in request order
	turns := e.Store().Snapshot()
	for i, turn := range turns {
		if turn.Role != conversation.RoleAssistant {
			continue
		}
		for j, call := range turn.ToolCalls {
			if got := turns[i+1+j].Result.CallID; got != call.ID {
				t.Errorf("tool turn %d answers %q, want %q", j, got, call.ID)
			}
		}
	}
}

func TestRunTask_NextStepGuidance(t *testing.T) {
	r := &mockReasoning{
		plan:  alwaysNavigate,
		evals: []string{`{"status":"continue","next_step":"click the login button"}`, evalComplete},
	}
	e := newTestEngine(t, r, &mockSurface{}, nil)

	res, _ := e.RunTask(context.Background(), "log in", nil, 5)
	if res.Status != StatusCompleted || res.Iterations != 2 {
		t.Fatalf("status = %s iterations = %d", res.Status, res.Iterations)
	}

	second := r.transcript(2)
	last := second[len(second)-1]
	if last.Role != conversation.RoleUser || !strings.Contains(last.Content, "click the login button") {
		t.Errorf("last turn before second plan = %+v", last)
	}
}

func TestRunTask_HistoryByStrategy(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		keeps    bool
	}{
		{"batch starts clean", Batch{}, false},
		{"interactive keeps history", Interactive{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &mockReasoning{plan: answer("ok"), evalDefault: evalComplete}
			e := newTestEngine(t, r, &mockSurface{}, func(c *Config, d *Deps) { c.Strategy = tt.strategy })

			e.RunTask(context.Background(), "first goal", nil, 3)
			e.RunTask(context.Background(), "second goal", nil, 3)

			transcript := conversation.Transcript(r.transcript(2))
			if got := strings.Contains(transcript, "first goal"); got != tt.keeps {
				t.Errorf("second task sees first goal = %v, want %v", got, tt.keeps)
			}
			if countRole(r.transcript(2), conversation.RoleSystem) != 1 {
				t.Error("system turn missing or duplicated")
			}
		})
	}
}

func TestSubmit_InterruptsRunningTask(t *testing.T) {
	planning := make(chan struct{})
	r := &mockReasoning{
		plan: func(ctx context.Context, n int) (conversation.Turn, error) {
			if n == 1 {
				close(planning)
				<-ctx.Done()
				return conversation.Turn{}, ctx.Err()
			}
			return conversation.AssistantTurn("second done", nil), nil
		},
		evalDefault: evalComplete,
	}
	e := newTestEngine(t, r, &mockSurface{}, nil)
	ctx := context.Background()

	first, err := e.Submit(ctx, "first", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	<-planning

	second, err := e.Submit(ctx, "second", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
	defer cancelWait()

	res1, err := first.Wait(waitCtx)
	if err != nil || res1.Status != StatusCancelled {
		t.Errorf("first: status = %s err = %v", res1.Status, err)
	}
	res2, err := second.Wait(waitCtx)
	if err != nil || res2.Status != StatusCompleted {
		t.Errorf("second: status = %s err = %v", res2.Status, err)
	}
	if first.ID() == second.ID() || res2.TaskID != second.ID() {
		t.Errorf("ids: %s %s %s", first.ID(), second.ID(), res2.TaskID)
	}
}

func TestSubmit_ResetClearsHistory(t *testing.T) {
	r := &mockReasoning{plan: answer("ok"), evalDefault: evalComplete}
	e := newTestEngine(t, r, &mockSurface{}, func(c *Config, d *Deps) { c.Strategy = Interactive{} })
	ctx := context.Background()

	h, _ := e.Submit(ctx, "first goal", SubmitOptions{})
	h.Wait(ctx)
	h, _ = e.Submit(ctx, "second goal", SubmitOptions{Reset: true})
	h.Wait(ctx)

	if strings.Contains(conversation.Transcript(r.transcript(2)), "first goal") {
		t.Error("reset submission still sees the previous goal")
	}
}

func TestHandle_Cancel(t *testing.T) {
	planning := make(chan struct{})
	r := &mockReasoning{plan: func(ctx context.Context, n int) (conversation.Turn, error) {
		close(planning)
		<-ctx.Done()
		return conversation.Turn{}, ctx.Err()
	}}
	e := newTestEngine(t, r, &mockSurface{}, nil)

	h, err := e.Submit(context.Background(), "do X", SubmitOptions{})
	if err != nil {
		t.Fatal(err)
	}
	<-planning
	h.Cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle not done after cancel")
	}
	res, _ := h.Wait(context.Background())
	if res.Status != StatusCancelled {
		t.Errorf("status = %s", res.Status)
	}
	h.Cancel() // no-op after completion
}

func TestRunTask_ReconnectsUnhealthySurface(t *testing.T) {
	s := &mockSurface{pingErr: errors.New("session gone")}
	r := &mockReasoning{plan: answer("ok"), evalDefault: evalComplete}
	e := newTestEngine(t, r, s, nil)

	e.RunTask(context.Background(), "do X", nil, 3)
	if s.reconnectCount() != 1 {
		t.Errorf("reconnects = %d, want 1", s.reconnectCount())
	}

	e.RunTask(context.Background(), "do Y", nil, 3)
	if s.reconnectCount() != 1 {
		t.Errorf("healthy surface reconnected: %d", s.reconnectCount())
	}
}

func TestRunTask_TerminatedSessionReconnectsBeforeNextTask(t *testing.T) {
	s := &mockSurface{invoke: func(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
		return tools.Result{Content: "Error: browser session terminated", IsError: true}, nil
	}}
	r := &mockReasoning{plan: alwaysNavigate, evalDefault: evalComplete}
	e := newTestEngine(t, r, s, nil)

	e.RunTask(context.Background(), "do X", nil, 3)
	if s.reconnectCount() != 0 {
		t.Fatalf("reconnected during the task: %d", s.reconnectCount())
	}
	e.RunTask(context.Background(), "do Y", nil, 3)
	if s.reconnectCount() != 1 {
		t.Errorf("reconnects = %d, want 1", s.reconnectCount())
	}
}

func TestRunTask_CompactsOverBudget(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.TopicSystem, 64)

	r := &mockReasoning{plan: alwaysNavigate, evalDefault: evalContinue}
	e := newTestEngine(t, r, &mockSurface{}, func(c *Config, d *Deps) {
		c.Retention = conversation.RetentionPolicy{BudgetTokens: 10, KeepRecent: 2}
		d.Bus = bus
	})

	res, _ := e.RunTask(context.Background(), "do X", nil, 4)
	if res.Status != StatusIncomplete {
		t.Fatalf("status = %s", res.Status)
	}

	compacted := 0
	for _, ev := range drain(sub) {
		if _, ok := ev.(events.ConversationCompactedEvent); ok {
			compacted++
		}
	}
	if compacted == 0 {
		t.Error("no compaction event")
	}
	if !e.Store().HasPinned() {
		t.Error("system turn dropped by compaction")
	}
}

func TestRunTask_ArchivesTask(t *testing.T) {
	archive, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()

	r := &mockReasoning{plan: alwaysNavigate, evals: []string{evalContinue, evalComplete}}
	e := newTestEngine(t, r, &mockSurface{}, func(c *Config, d *Deps) { d.Archive = archive })

	res, _ := e.RunTask(context.Background(), "do X", nil, 5)

	ctx := context.Background()
	rec, err := archive.GetTask(ctx, res.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "completed" || rec.Iterations != 2 || rec.FinishedAt.IsZero() {
		t.Errorf("archived task = %+v", rec)
	}
	turns, _ := archive.GetTurns(ctx, res.TaskID)
	if len(turns) != e.Store().Len() {
		t.Errorf("archived turns = %d, store has %d", len(turns), e.Store().Len())
	}
	invs, _ := archive.GetInvocations(ctx, res.TaskID)
	if len(invs) != 2 || invs[1].Iteration != 2 {
		t.Errorf("archived invocations = %+v", invs)
	}
}

func TestTaskStatusIsMonotone(t *testing.T) {
	task := newTask("t", "goal", time.Now())
	if err := task.finish(StatusRunning); err == nil {
		t.Error("finished with a non-terminal status")
	}
	if err := task.finish(StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if err := task.finish(StatusFailed); !errors.Is(err, ErrTerminal) {
		t.Errorf("err = %v, want ErrTerminal", err)
	}
	if task.Status() != StatusCompleted {
		t.Errorf("status = %s", task.Status())
	}
}
