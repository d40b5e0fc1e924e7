package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		global        string
		project       string
		expectModel   string
		expectLimit   int
		expectTimeout time.Duration
		expectMCP     int
		expectError   bool
	}{
		{
			name:          "No config files - returns defaults",
			expectModel:   "gpt-4o-mini",
			expectLimit:   25,
			expectTimeout: 30 * time.Second,
		},
		{
			name:          "Global only - overrides model, keeps other engine defaults",
			global:        `{"reasoning":{"model":"gpt-4.1"},"engine":{"iteration_limit":10}}`,
			expectModel:   "gpt-4.1",
			expectLimit:   10,
			expectTimeout: 30 * time.Second,
		},
		{
			name:          "Project overrides global",
			global:        `{"reasoning":{"model":"gpt-4.1"},"engine":{"tool_timeout":"5s"}}`,
			project:       `{"reasoning":{"model":"o3-mini"}}`,
			expectModel:   "o3-mini",
			expectLimit:   25,
			expectTimeout: 5 * time.Second,
		},
		{
			name:          "MCP servers merge by name",
			global:        `{"tools":{"mcp":{"search":{"url":"http://localhost:9000/mcp"}}}}`,
			project:       `{"tools":{"mcp":{"files":{"command":"mcp-files","args":["--root","."]}}}}`,
			expectModel:   "gpt-4o-mini",
			expectLimit:   25,
			expectTimeout: 30 * time.Second,
			expectMCP:     2,
		},
		{
			name:        "Malformed JSON",
			project:     `{"engine":`,
			expectError: true,
		},
		{
			name:        "Bad duration",
			global:      `{"engine":{"tool_timeout":"soon"}}`,
			expectError: true,
		},
		{
			name:        "Invalid iteration limit",
			project:     `{"engine":{"iteration_limit":0}}`,
			expectError: true,
		},
		{
			name:        "MCP server with url and command",
			project:     `{"tools":{"mcp":{"x":{"url":"http://a","command":"b"}}}}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "global", "config.json")
			projectPath := filepath.Join(dir, "project", "config.json")
			if tt.global != "" {
				writeFile(t, globalPath, tt.global)
			}
			if tt.project != "" {
				writeFile(t, projectPath, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if cfg.Reasoning.Model != tt.expectModel {
				t.Errorf("Expected model %q, got %q", tt.expectModel, cfg.Reasoning.Model)
			}
			if cfg.Engine.IterationLimit != tt.expectLimit {
				t.Errorf("Expected iteration limit %d, got %d", tt.expectLimit, cfg.Engine.IterationLimit)
			}
			if cfg.Engine.ToolTimeout.Std() != tt.expectTimeout {
				t.Errorf("Expected tool timeout %s, got %s", tt.expectTimeout, cfg.Engine.ToolTimeout.Std())
			}
			if len(cfg.Tools.MCP) != tt.expectMCP {
				t.Errorf("Expected %d MCP servers, got %d", tt.expectMCP, len(cfg.Tools.MCP))
			}
			if !cfg.Engine.Summarize || !cfg.Tools.Browser.Enabled {
				t.Error("Boolean defaults lost during merge")
			}
		})
	}
}

func TestLoadMissingFilesAreDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := DefaultConfig()
	if cfg.Engine != want.Engine || cfg.Reasoning.Provider != want.Reasoning.Provider {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBaseURL:  "http://localhost:8080/v1",
		EnvModel:    "local-model",
		EnvMCPURL:   "http://localhost:9000/mcp",
		EnvLogLevel: "DEBUG",
	}
	cfg := DefaultConfig()
	ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.Reasoning.BaseURL != "http://localhost:8080/v1" || cfg.Reasoning.Model != "local-model" {
		t.Errorf("reasoning = %+v", cfg.Reasoning)
	}
	if cfg.Tools.MCP["default"].URL != "http://localhost:9000/mcp" {
		t.Errorf("mcp = %+v", cfg.Tools.MCP)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reasoning.APIKeyEnv = "OPENROUTER_API_KEY"

	env := map[string]string{EnvAPIKey: "sk-openai"}
	getenv := func(k string) string { return env[k] }
	if got := cfg.APIKey(getenv); got != "sk-openai" {
		t.Errorf("fallback key = %q", got)
	}

	env["OPENROUTER_API_KEY"] = " sk-router "
	if got := cfg.APIKey(getenv); got != "sk-router" {
		t.Errorf("configured key = %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "AUTOPILOT_TEST_DOTENV=from-file\nAUTOPILOT_TEST_PRESET=from-file\n")
	t.Setenv("AUTOPILOT_TEST_PRESET", "from-env")

	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("AUTOPILOT_TEST_DOTENV") })

	if got := os.Getenv("AUTOPILOT_TEST_DOTENV"); got != "from-file" {
		t.Errorf("AUTOPILOT_TEST_DOTENV = %q", got)
	}
	if got := os.Getenv("AUTOPILOT_TEST_PRESET"); got != "from-env" {
		t.Errorf("existing variable overridden: %q", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env returned %v", err)
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1m30s"`)); err != nil || d.Std() != 90*time.Second {
		t.Errorf("string form: %v %v", d.Std(), err)
	}
	if err := d.UnmarshalJSON([]byte(`1000000`)); err != nil || d.Std() != time.Millisecond {
		t.Errorf("integer form: %v %v", d.Std(), err)
	}
	out, err := Duration(2 * time.Second).MarshalJSON()
	if err != nil || !strings.Contains(string(out), `"2s"`) {
		t.Errorf("marshal = %s %v", out, err)
	}
}
