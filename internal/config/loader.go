package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file configuration.
const (
	EnvAPIKey   = "OPENAI_API_KEY"
	EnvBaseURL  = "OPENAI_BASE_URL"
	EnvModel    = "AUTOPILOT_MODEL"
	EnvMCPURL   = "AUTOPILOT_MCP_URL"
	EnvLogLevel = "AUTOPILOT_LOG_LEVEL"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath is ~/.autopilot/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".autopilot", "config.json"), nil
}

// ProjectPath is .autopilot/config.json relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".autopilot", "config.json")
}

// LoadDefault loads .env, the conventional config files and the
// environment overrides.
// Global: ~/.autopilot/config.json
// Project: .autopilot/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	cfg, err := Load(globalPath, ProjectPath())
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg. getenv is os.Getenv
// outside tests.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := strings.TrimSpace(getenv(EnvMCPURL)); v != "" {
		if cfg.Tools.MCP == nil {
			cfg.Tools.MCP = map[string]MCPServerConfig{}
		}
		cfg.Tools.MCP["default"] = MCPServerConfig{URL: v}
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// APIKey resolves the reasoning API key from the configured variable,
// falling back to OPENAI_API_KEY.
func (c *Config) APIKey(getenv func(string) string) string {
	if c.Reasoning.APIKeyEnv != "" {
		if v := strings.TrimSpace(getenv(c.Reasoning.APIKeyEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(getenv(EnvAPIKey))
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Reasoning.Provider {
	case "", "openai", "openrouter":
	default:
		return fmt.Errorf("reasoning.provider: unknown provider %q", c.Reasoning.Provider)
	}
	if c.Engine.IterationLimit <= 0 {
		return fmt.Errorf("engine.iteration_limit must be positive, got %d", c.Engine.IterationLimit)
	}
	if c.Engine.ToolRetries < 0 {
		return fmt.Errorf("engine.tool_retries must not be negative, got %d", c.Engine.ToolRetries)
	}
	for name, srv := range c.Tools.MCP {
		if (srv.URL == "") == (srv.Command == "") {
			return fmt.Errorf("tools.mcp.%s: exactly one of url or command is required", name)
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// mergeConfigFile decodes a JSON config file over base. Keys absent from
// the file keep their current value; MCP servers are merged by name.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if base.Tools.MCP == nil {
		base.Tools.MCP = map[string]MCPServerConfig{}
	}
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
