package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/mcp"
	"github.com/aristath/autopilot/internal/orchestrator"
	"github.com/aristath/autopilot/internal/reasoning"
	"github.com/aristath/autopilot/internal/resilience"
	"github.com/aristath/autopilot/internal/tools"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    flags
		wantErr bool
	}{
		{
			name: "goal flag",
			args: []string{"-goal", "open example.com", "-limit", "5", "-db", "tasks.db"},
			want: flags{goal: "open example.com", limit: 5, dbPath: "tasks.db"},
		},
		{
			name: "positional goal",
			args: []string{"find", "the", "weather"},
			want: flags{goal: "find the weather"},
		},
		{
			name: "interactive with config",
			args: []string{"-i", "-config", "my.json", "-log-level", "debug"},
			want: flags{interactive: true, configPath: "my.json", logLevel: "debug"},
		},
		{
			name:    "negative limit",
			args:    []string{"-limit", "-1"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"-bogus"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("flags = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Engine.IterationLimit = 7
	cfg.Engine.ToolRetries = 1
	cfg.Engine.ConcurrentDispatch = true
	cfg.Engine.ToolTimeout = config.Duration(5 * time.Second)
	cfg.Retry.InitialInterval = config.Duration(time.Second)

	breakers := resilience.NewBreakerRegistry(nil, nil)
	ec := engineConfig(cfg, true, breakers)

	if ec.IterationLimit != 7 || ec.Strategy.Name() != "interactive" {
		t.Errorf("limit = %d strategy = %s", ec.IterationLimit, ec.Strategy.Name())
	}
	if ec.Dispatch.Retry.MaxRetries != 1 || ec.Dispatch.Retry.InitialInterval != time.Second {
		t.Errorf("retry = %+v", ec.Dispatch.Retry)
	}
	if !ec.Dispatch.Concurrent || ec.Dispatch.Timeout != 5*time.Second || ec.Dispatch.Breakers != breakers {
		t.Errorf("dispatch = %+v", ec.Dispatch)
	}
	if ec.Retention.BudgetTokens != 100000 || ec.Retention.KeepRecent != 8 || !ec.Retention.Summarize {
		t.Errorf("retention = %+v", ec.Retention)
	}

	if got := engineConfig(cfg, false, breakers).Strategy.Name(); got != "batch" {
		t.Errorf("batch strategy = %s", got)
	}
}

func TestNewSurfaceRequiresTools(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tools.Browser.Enabled = false

	_, err := newSurface(cfg, mcp.NewProcessManager(), slog.Default())
	if !errors.Is(err, orchestrator.ErrNoTools) {
		t.Errorf("err = %v, want ErrNoTools", err)
	}

	cfg.Tools.MCP["search"] = config.MCPServerConfig{URL: "http://127.0.0.1:1/mcp"}
	if _, err := newSurface(cfg, mcp.NewProcessManager(), slog.Default()); err != nil {
		t.Errorf("mcp-only surface: %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := map[orchestrator.Status]int{
		orchestrator.StatusCompleted:  0,
		orchestrator.StatusFailed:     1,
		orchestrator.StatusIncomplete: 3,
		orchestrator.StatusCancelled:  130,
	}
	for status, want := range tests {
		if got := exitCode(status); got != want {
			t.Errorf("exitCode(%s) = %d, want %d", status, got, want)
		}
	}
}

// answeringService answers every goal directly and judges it complete.
type answeringService struct{}

func (answeringService) Plan(ctx context.Context, transcript []conversation.Turn, available []tools.Descriptor) (conversation.Turn, error) {
	return conversation.AssistantTurn("The answer is 42.", nil), nil
}

func (answeringService) Complete(ctx context.Context, req reasoning.CompletionRequest) (string, error) {
	return `{"status":"complete","rationale":"answered","accomplished":"answered 42"}`, nil
}

type idleSurface struct{}

func (idleSurface) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	return []tools.Descriptor{{Name: "noop", Origin: "test"}}, nil
}

func (idleSurface) Invoke(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	return tools.Result{Content: "ok"}, nil
}

func (idleSurface) Ping(ctx context.Context) error      { return nil }
func (idleSurface) Reconnect(ctx context.Context) error { return nil }
func (idleSurface) Close() error                        { return nil }

func TestRunBatchPrintsEvents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus()
	engine, err := orchestrator.NewEngine(orchestrator.Deps{
		Reasoning: answeringService{},
		Surface:   idleSurface{},
		Bus:       bus,
		Logger:    logger,
	}, orchestrator.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	a := &app{engine: engine, bus: bus, surface: idleSurface{}, logger: logger}
	defer a.Close()

	var out bytes.Buffer
	code := runBatch(context.Background(), a, "what is six times seven", 3, &out)
	if code != 0 {
		t.Errorf("exit code = %d, output:\n%s", code, out.String())
	}
	for _, want := range []string{"[task.started]", "[iteration.verdict] verdict complete", "[task.finished] task completed", "answered 42"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

// TestProcessManagerKillAllOnShutdown checks that KillAll terminates tool
// servers on shutdown.
func TestProcessManagerKillAllOnShutdown(t *testing.T) {
	pm := mcp.NewProcessManager()

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start subprocess: %v", err)
	}
	pm.Track("sleeper", cmd)

	if count := pm.Count(); count != 1 {
		t.Errorf("Expected 1 tracked server, got %d", count)
	}

	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll() failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected process to be killed (non-zero exit), got nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not terminate after KillAll()")
	}

	pm.Untrack(cmd)
	if count := pm.Count(); count != 0 {
		t.Errorf("Expected 0 tracked processes after Untrack, got %d", count)
	}
}

// TestSignalContextCancellation verifies that signal.NotifyContext produces
// a context that cancels correctly when a signal is received.
func TestSignalContextCancellation(t *testing.T) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Failed to send SIGUSR1: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(1 * time.Second):
		t.Fatal("Context did not cancel after SIGUSR1")
	}

	if err := ctx.Err(); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
