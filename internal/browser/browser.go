// Package browser exposes a locally driven Playwright browser as a tool
// surface.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aristath/autopilot/internal/tools"
)

// Config configures the browser surface.
type Config struct {
	Headless      bool
	SlowMo        time.Duration
	ActionTimeout time.Duration // Per-action Playwright timeout (default 10s)
	ScreenshotDir string
	Logger        *slog.Logger
}

// driver is the set of page operations the tools are built on.
type driver interface {
	Navigate(url string) error
	Click(selector string) error
	Fill(selector, text string, submit bool) error
	PageText(selector string) (string, error)
	Title() string
	URL() string
	Screenshot(path string) error
	WaitVisible(selector string, timeout time.Duration) error
	Alive() bool
	Close() error
}

// Surface is the browser tool surface. The browser is launched on first
// use and relaunched after it dies.
type Surface struct {
	cfg    Config
	logger *slog.Logger
	launch func(Config) (driver, error)
	sleep  func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	drv driver
}

var _ tools.Surface = (*Surface)(nil)

// New creates a browser surface backed by Playwright.
func New(cfg Config) *Surface {
	return newSurface(cfg, launchPlaywright)
}

func newSurface(cfg Config, launch func(Config) (driver, error)) *Surface {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = "."
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{
		cfg:    cfg,
		logger: logger.With("surface", Origin),
		launch: launch,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Surface) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	return descriptors(), nil
}

// Invoke runs one browser tool. Page errors are reported by the tool;
// timeouts and a dead browser are transient.
func (s *Surface) Invoke(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
	drv, err := s.ensure()
	if err != nil {
		return tools.Result{}, err
	}

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := s.run(ctx, drv, name, args)
		done <- outcome{text, err}
	}()

	// Playwright calls are not context-aware; an abandoned call finishes
	// in the background and its result is dropped.
	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return tools.Result{}, ctx.Err()
	}

	if out.err == nil {
		return tools.Result{Content: out.text}, nil
	}
	var argErr *argumentError
	if errors.As(out.err, &argErr) {
		return tools.Result{Content: argErr.Error(), IsError: true}, nil
	}
	msg := out.err.Error()
	if isClosedError(msg) {
		s.drop(drv)
		return tools.Result{}, tools.Transient("browser "+name, out.err)
	}
	if strings.Contains(msg, "Timeout") {
		return tools.Result{}, tools.Transient("browser "+name, out.err)
	}
	return tools.Result{Content: msg, IsError: true}, nil
}

type argumentError struct{ err error }

func (e *argumentError) Error() string { return e.err.Error() }

func (s *Surface) run(ctx context.Context, drv driver, name string, args map[string]any) (string, error) {
	switch name {
	case toolNavigate:
		url, err := stringArg(args, "url")
		if err != nil {
			return "", &argumentError{err}
		}
		if err := drv.Navigate(url); err != nil {
			return "", err
		}
		return fmt.Sprintf("Navigated to %s (title: %q)", drv.URL(), drv.Title()), nil

	case toolClick:
		selector, err := stringArg(args, "selector")
		if err != nil {
			return "", &argumentError{err}
		}
		if err := drv.Click(selector); err != nil {
			return "", err
		}
		return fmt.Sprintf("Clicked %s; now at %s", selector, drv.URL()), nil

	case toolTypeText:
		selector, err := stringArg(args, "selector")
		if err != nil {
			return "", &argumentError{err}
		}
		text, ok := args["text"].(string)
		if !ok {
			return "", &argumentError{errors.New(`argument "text" must be a string`)}
		}
		submit := optionalBool(args, "submit")
		if err := drv.Fill(selector, text, submit); err != nil {
			return "", err
		}
		if submit {
			return fmt.Sprintf("Typed into %s and submitted", selector), nil
		}
		return fmt.Sprintf("Typed into %s", selector), nil

	case toolReadPage:
		selector := optionalString(args, "selector")
		text, err := drv.PageText(selector)
		if err != nil {
			return "", err
		}
		limit := int(optionalNumber(args, "max_chars", 4000))
		return fmt.Sprintf("Title: %s\nURL: %s\n\n%s", drv.Title(), drv.URL(), truncate(text, limit)), nil

	case toolScreenshot:
		name := optionalString(args, "name")
		if name == "" {
			name = "screenshot-" + time.Now().Format("20060102-150405")
		}
		path := filepath.Join(s.cfg.ScreenshotDir, filepath.Base(name)+".png")
		if err := drv.Screenshot(path); err != nil {
			return "", err
		}
		return "Saved screenshot to " + path, nil

	case toolWait:
		if selector := optionalString(args, "selector"); selector != "" {
			if err := drv.WaitVisible(selector, s.cfg.ActionTimeout*2); err != nil {
				return "", err
			}
			return selector + " is visible", nil
		}
		seconds := clamp(optionalNumber(args, "seconds", 1), 0, 30)
		if err := s.sleep(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
			return "", err
		}
		return fmt.Sprintf("Waited %.1f seconds", seconds), nil

	default:
		return "", &argumentError{fmt.Errorf("unknown browser tool %q", name)}
	}
}

func isClosedError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "target closed") || strings.Contains(lower, "has been closed") ||
		strings.Contains(lower, "browser closed")
}

func (s *Surface) ensure() (driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv != nil {
		return s.drv, nil
	}
	drv, err := s.launch(s.cfg)
	if err != nil {
		return nil, tools.Transient("browser launch", err)
	}
	s.logger.Info("browser launched", "headless", s.cfg.Headless)
	s.drv = drv
	return drv, nil
}

func (s *Surface) drop(drv driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == drv {
		s.drv = nil
		s.logger.Warn("browser closed unexpectedly, will relaunch", "degraded", true)
		drv.Close()
	}
}

// Ping fails when the browser has been launched and its page is gone. An
// unlaunched browser is healthy: it launches on first use.
func (s *Surface) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv != nil && !s.drv.Alive() {
		return tools.ErrNotConnected
	}
	return nil
}

// Reconnect closes the browser and launches a new one.
func (s *Surface) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.drv != nil {
		s.drv.Close()
		s.drv = nil
	}
	s.mu.Unlock()
	_, err := s.ensure()
	return err
}

func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drv == nil {
		return nil
	}
	err := s.drv.Close()
	s.drv = nil
	return err
}
