package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes as a Go duration
// string ("30s", "1m30s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", data)
	}
	*d = Duration(n)
	return nil
}

// ReasoningConfig selects the chat-completions provider and model.
type ReasoningConfig struct {
	Provider    string   `json:"provider"`              // "openai" or "openrouter"
	Model       string   `json:"model"`
	BaseURL     string   `json:"base_url,omitempty"`
	APIKeyEnv   string   `json:"api_key_env"`           // Environment variable holding the key
	Timeout     Duration `json:"timeout"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// MCPServerConfig is one MCP server. Exactly one of URL or Command is set.
type MCPServerConfig struct {
	URL     string   `json:"url,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// BrowserConfig controls the built-in Playwright surface.
type BrowserConfig struct {
	Enabled       bool     `json:"enabled"`
	Headless      bool     `json:"headless"`
	SlowMo        Duration `json:"slow_mo"`
	ScreenshotDir string   `json:"screenshot_dir,omitempty"`
}

// ToolsConfig lists the tool surfaces.
type ToolsConfig struct {
	MCP     map[string]MCPServerConfig `json:"mcp"`
	Browser BrowserConfig              `json:"browser"`
}

// EngineConfig tunes the task loop.
type EngineConfig struct {
	IterationLimit      int      `json:"iteration_limit"`
	ToolTimeout         Duration `json:"tool_timeout"`
	ToolRetries         int      `json:"tool_retries"`
	ConcurrentDispatch  bool     `json:"concurrent_dispatch"`
	ConcurrencyLimit    int      `json:"concurrency_limit"`
	EvalAttempts        int      `json:"eval_attempts"`
	ContextBudgetTokens int      `json:"context_budget_tokens"`
	KeepRecentTurns     int      `json:"keep_recent_turns"`
	Summarize           bool     `json:"summarize"`
	GuideWithNextStep   bool     `json:"guide_with_next_step"`
	SystemPrompt        string   `json:"system_prompt,omitempty"`
}

// RetryConfig shapes the backoff used for tool and reasoning retries.
type RetryConfig struct {
	InitialInterval     Duration `json:"initial_interval"`
	MaxInterval         Duration `json:"max_interval"`
	Multiplier          float64  `json:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `json:"level"`          // debug, info, warn, error
	Format string `json:"format"`         // text or json
	File   string `json:"file,omitempty"` // Empty writes to stderr (or the state dir in the TUI)
}

// StoreConfig locates the task archive.
type StoreConfig struct {
	Path string `json:"path"` // Empty disables archiving
}

// Config is the top-level configuration.
type Config struct {
	Reasoning ReasoningConfig `json:"reasoning"`
	Tools     ToolsConfig     `json:"tools"`
	Engine    EngineConfig    `json:"engine"`
	Retry     RetryConfig     `json:"retry"`
	Log       LogConfig       `json:"log"`
	Store     StoreConfig     `json:"store"`
}
