// Command autopilot drives goals to completion with a reasoning service and
// a set of tools. With a terminal and no -goal it opens the interactive
// TUI; otherwise it runs one goal and prints its events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/orchestrator"
	"github.com/aristath/autopilot/internal/tui"
)

// flags are the command-line options.
type flags struct {
	goal        string
	limit       int
	configPath  string
	dbPath      string
	interactive bool
	logLevel    string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("autopilot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.goal, "goal", "", "run this goal once and exit")
	fs.IntVar(&f.limit, "limit", 0, "iteration limit (default from config)")
	fs.StringVar(&f.configPath, "config", "", "project config file (default .autopilot/config.json)")
	fs.StringVar(&f.dbPath, "db", "", "SQLite archive path (default from config)")
	fs.BoolVar(&f.interactive, "i", false, "force the interactive TUI")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if f.goal == "" && fs.NArg() > 0 {
		f.goal = strings.Join(fs.Args(), " ")
	}
	if f.limit < 0 {
		return flags{}, fmt.Errorf("-limit must not be negative")
	}
	return f, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, globalPath, projectPath, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	interactive := f.interactive || (f.goal == "" && term.IsTerminal(int(os.Stdout.Fd())))
	if !interactive && f.goal == "" {
		fmt.Fprintln(stderr, "Error: no goal given (use -goal or run in a terminal)")
		return 2
	}

	logger, closeLog, err := newLogger(cfg, interactive, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error configuring logging: %v\n", err)
		return 1
	}
	defer closeLog()

	a, err := buildApp(ctx, cfg, interactive, f.dbPath, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	if interactive {
		return runInteractive(ctx, stop, a, cfg, globalPath, projectPath, stderr)
	}
	return runBatch(ctx, a, f.goal, f.limit, stdout)
}

func loadConfig(f flags) (*config.Config, string, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", "", err
	}
	globalPath, err := config.GlobalPath()
	if err != nil {
		return nil, "", "", err
	}
	projectPath := config.ProjectPath()
	if f.configPath != "" {
		projectPath = f.configPath
	}

	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return nil, "", "", err
	}
	config.ApplyEnv(cfg, os.Getenv)
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.limit > 0 {
		cfg.Engine.IterationLimit = f.limit
	}
	return cfg, globalPath, projectPath, nil
}

// newLogger writes to stderr in batch mode. The TUI owns the terminal, so
// interactive logs go to a file under ~/.autopilot unless one is set.
func newLogger(cfg *config.Config, interactive bool, stderr io.Writer) (*slog.Logger, func(), error) {
	out, closeFn := stderr, func() {}
	path := cfg.Log.File
	if path == "" && interactive {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".autopilot", "autopilot.log")
		}
	}
	if path != "" {
		file, err := logging.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		out, closeFn = file, func() { file.Close() }
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  out,
		NoColor: path != "",
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// runBatch runs one goal, printing events as they happen. The exit code is
// 0 only for a completed task.
func runBatch(ctx context.Context, a *app, goal string, limit int, stdout io.Writer) int {
	sub := a.bus.SubscribeAll(256)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(stdout, sub)
	}()

	res, err := a.engine.RunTask(ctx, goal, nil, limit)
	a.bus.Unsubscribe(sub)
	<-printed

	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return 1
	}
	return exitCode(res.Status)
}

// printEvents writes one line per event until sub is closed.
func printEvents(w io.Writer, sub <-chan events.Event) {
	for e := range sub {
		fmt.Fprintf(w, "[%s] %s\n", e.EventType(), events.Describe(e))
	}
}

func exitCode(s orchestrator.Status) int {
	switch s {
	case orchestrator.StatusCompleted:
		return 0
	case orchestrator.StatusIncomplete:
		return 3
	case orchestrator.StatusCancelled:
		return 130
	default:
		return 1
	}
}

func runInteractive(ctx context.Context, stop context.CancelFunc, a *app, cfg *config.Config, globalPath, projectPath string, stderr io.Writer) int {
	model := tui.New(ctx, tui.Options{
		Runner:      a.engine,
		Bus:         a.bus,
		Config:      cfg,
		GlobalPath:  globalPath,
		ProjectPath: projectPath,
	})

	// Start Bubble Tea program in a goroutine so main can handle shutdown
	p := tea.NewProgram(model, tea.WithAltScreen())

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	select {
	case err := <-errChan:
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		// Restore default signal handling (double Ctrl+C = force exit)
		stop()
		a.logger.Info("shutdown signal received, cleaning up")

		a.engine.Reset()
		if err := a.processes.KillAll(); err != nil {
			a.logger.Warn("killing tool servers", "error", err)
		}
		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case err := <-errChan:
			if err != nil {
				a.logger.Warn("TUI exit error", "error", err)
			}
		case <-shutdownCtx.Done():
			a.logger.Warn("shutdown timeout exceeded, forcing exit")
		}
	}

	a.logger.Info("shutdown complete")
	return 0
}
