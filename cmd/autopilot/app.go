package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/sony/gobreaker"

	"github.com/aristath/autopilot/internal/browser"
	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/conversation"
	"github.com/aristath/autopilot/internal/dispatch"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/mcp"
	"github.com/aristath/autopilot/internal/orchestrator"
	"github.com/aristath/autopilot/internal/persistence"
	"github.com/aristath/autopilot/internal/reasoning"
	"github.com/aristath/autopilot/internal/resilience"
	"github.com/aristath/autopilot/internal/tools"
)

// version is reported to MCP servers as clientInfo.
var version = "dev"

// app holds everything main wires together.
type app struct {
	engine    *orchestrator.Engine
	bus       *events.Bus
	surface   tools.Surface
	archive   *persistence.SQLiteStore
	processes *mcp.ProcessManager
	logger    *slog.Logger
}

// buildApp wires the reasoning service, tool surfaces, archive and engine
// from cfg. dbPath overrides cfg.Store.Path when set.
func buildApp(ctx context.Context, cfg *config.Config, interactive bool, dbPath string, logger *slog.Logger) (*app, error) {
	a := &app{
		bus:       events.NewBus(),
		processes: mcp.NewProcessManager(),
		logger:    logger,
	}

	breakers := resilience.NewBreakerRegistry(logger.With("component", "breaker"),
		func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				a.bus.Publish(events.DegradedEvent{Component: name, Reason: "circuit breaker opened"})
			}
		})

	service, err := newReasoning(cfg, breakers)
	if err != nil {
		a.Close()
		return nil, err
	}

	surface, err := newSurface(cfg, a.processes, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.surface = surface

	if path := firstNonEmpty(dbPath, cfg.Store.Path); path != "" {
		store, err := persistence.NewSQLiteStore(ctx, path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.archive = store
	}

	deps := orchestrator.Deps{
		Reasoning: service,
		Surface:   surface,
		Bus:       a.bus,
		Logger:    logger,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	engine, err := orchestrator.NewEngine(deps, engineConfig(cfg, interactive, breakers))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func newReasoning(cfg *config.Config, breakers *resilience.BreakerRegistry) (reasoning.Service, error) {
	client, err := reasoning.NewProvider(cfg.Reasoning.Provider, reasoning.OpenAIConfig{
		APIKey:      cfg.APIKey(os.Getenv),
		Model:       cfg.Reasoning.Model,
		BaseURL:     cfg.Reasoning.BaseURL,
		Temperature: cfg.Reasoning.Temperature,
		Timeout:     cfg.Reasoning.Timeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning service: %w", err)
	}
	name := "reasoning:" + firstNonEmpty(cfg.Reasoning.Provider, "openai")
	return reasoning.NewResilient(client, breakers.Get(name), retryConfig(cfg, 2)), nil
}

// newSurface combines the configured MCP servers (sorted by name) and the
// browser into one surface.
func newSurface(cfg *config.Config, pm *mcp.ProcessManager, logger *slog.Logger) (tools.Surface, error) {
	names := make([]string, 0, len(cfg.Tools.MCP))
	for name := range cfg.Tools.MCP {
		names = append(names, name)
	}
	sort.Strings(names)

	var surfaces []tools.Surface
	for _, name := range names {
		srv := cfg.Tools.MCP[name]
		client, err := mcp.New(mcp.Config{
			Name:      name,
			URL:       srv.URL,
			Command:   srv.Command,
			Args:      srv.Args,
			Env:       srv.Env,
			Processes: pm,
			Logger:    logger,
			Version:   version,
		})
		if err != nil {
			return nil, err
		}
		surfaces = append(surfaces, client)
	}

	if cfg.Tools.Browser.Enabled {
		surfaces = append(surfaces, browser.New(browser.Config{
			Headless:      cfg.Tools.Browser.Headless,
			SlowMo:        cfg.Tools.Browser.SlowMo.Std(),
			ScreenshotDir: cfg.Tools.Browser.ScreenshotDir,
			Logger:        logger,
		}))
	}

	if len(surfaces) == 0 {
		return nil, fmt.Errorf("%w: enable the browser or configure an MCP server", orchestrator.ErrNoTools)
	}
	return tools.NewMulti(surfaces...), nil
}

// engineConfig maps the file configuration onto the engine.
func engineConfig(cfg *config.Config, interactive bool, breakers *resilience.BreakerRegistry) orchestrator.Config {
	ec := orchestrator.DefaultConfig()
	ec.IterationLimit = cfg.Engine.IterationLimit
	ec.GuideWithNextStep = cfg.Engine.GuideWithNextStep
	ec.EvalAttempts = cfg.Engine.EvalAttempts
	if cfg.Engine.SystemPrompt != "" {
		ec.SystemPrompt = cfg.Engine.SystemPrompt
	}
	ec.Retention = conversation.RetentionPolicy{
		BudgetTokens: cfg.Engine.ContextBudgetTokens,
		KeepRecent:   cfg.Engine.KeepRecentTurns,
		Summarize:    cfg.Engine.Summarize,
	}
	ec.Dispatch = dispatch.Options{
		Timeout:          cfg.Engine.ToolTimeout.Std(),
		Retry:            retryConfig(cfg, cfg.Engine.ToolRetries),
		Concurrent:       cfg.Engine.ConcurrentDispatch,
		ConcurrencyLimit: cfg.Engine.ConcurrencyLimit,
		Breakers:         breakers,
	}
	if interactive {
		ec.Strategy = orchestrator.Interactive{}
	} else {
		ec.Strategy = orchestrator.Batch{}
	}
	return ec
}

func retryConfig(cfg *config.Config, retries int) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.MaxRetries = retries
	if cfg.Retry.InitialInterval > 0 {
		rc.InitialInterval = cfg.Retry.InitialInterval.Std()
	}
	if cfg.Retry.MaxInterval > 0 {
		rc.MaxInterval = cfg.Retry.MaxInterval.Std()
	}
	if cfg.Retry.Multiplier > 0 {
		rc.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Retry.RandomizationFactor > 0 {
		rc.RandomizationFactor = cfg.Retry.RandomizationFactor
	}
	return rc
}

// Close releases the surface, kills tool-server subprocesses and closes
// the archive and the bus.
func (a *app) Close() error {
	var errs []error
	if a.surface != nil {
		errs = append(errs, a.surface.Close())
	}
	if a.processes != nil && a.processes.Count() > 0 {
		errs = append(errs, a.processes.KillAll())
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	a.bus.Close()
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
