package config

import "time"

// DefaultConfig returns the built-in configuration: OpenAI reasoning, the
// local browser surface and no MCP servers.
func DefaultConfig() *Config {
	return &Config{
		Reasoning: ReasoningConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   Duration(2 * time.Minute),
		},
		Tools: ToolsConfig{
			MCP: map[string]MCPServerConfig{},
			Browser: BrowserConfig{
				Enabled:  true,
				Headless: true,
			},
		},
		Engine: EngineConfig{
			IterationLimit:      25,
			ToolTimeout:         Duration(30 * time.Second),
			ToolRetries:         3,
			ConcurrentDispatch:  false,
			ConcurrencyLimit:    4,
			EvalAttempts:        3,
			ContextBudgetTokens: 100000,
			KeepRecentTurns:     8,
			Summarize:           true,
			GuideWithNextStep:   true,
		},
		Retry: RetryConfig{
			InitialInterval:     Duration(200 * time.Millisecond),
			MaxInterval:         Duration(5 * time.Second),
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Path: "autopilot.db",
		},
	}
}
