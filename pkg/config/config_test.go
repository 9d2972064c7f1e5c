package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("FADEN_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Addr() != ":8080" {
		t.Errorf("Server.Addr() = %q, want %q", cfg.Server.Addr(), ":8080")
	}
	if cfg.Engine.Backend != BackendAnthropic {
		t.Errorf("Engine.Backend = %q, want %q", cfg.Engine.Backend, BackendAnthropic)
	}
	if cfg.Session.ToolCallTimeout != 2*time.Minute {
		t.Errorf("Session.ToolCallTimeout = %v, want 2m", cfg.Session.ToolCallTimeout)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Errorf("Session.IdleTimeout = %v, want 30m", cfg.Session.IdleTimeout)
	}
	if cfg.Session.SnapshotTTL != time.Hour {
		t.Errorf("Session.SnapshotTTL = %v, want 1h", cfg.Session.SnapshotTTL)
	}
	if cfg.Session.SweepInterval != time.Minute {
		t.Errorf("Session.SweepInterval = %v, want 1m", cfg.Session.SweepInterval)
	}
	if !cfg.Session.SequentialToolCalls {
		t.Error("Session.SequentialToolCalls should default to true")
	}
	if !cfg.Replay.Enabled || cfg.Replay.MaxSize != 1024 {
		t.Errorf("Replay = %+v, want enabled with max_size 1024", cfg.Replay)
	}
	if !cfg.Observability.Metrics.Enabled || cfg.Observability.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Observability.Metrics)
	}
	if cfg.Engine.ClaudeCode.BridgeURL != "" {
		t.Errorf("BridgeURL derived for non-claudecode backend: %q", cfg.Engine.ClaudeCode.BridgeURL)
	}
	if cfg.Engine.ClaudeCode.BatchSettle != 50*time.Millisecond {
		t.Errorf("ClaudeCode.BatchSettle = %v, want 50ms", cfg.Engine.ClaudeCode.BatchSettle)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
server:
  host: 127.0.0.1
  port: 9090
  max_body_size: 1048576
engine:
  backend: openai
  base_url: http://localhost:4000/v1
  model: gpt-4o
  max_tokens: 1024
  max_steps: 5
session:
  tool_call_timeout: 30s
  idle_timeout: 10m
  sequential_tool_calls: false
  default_system_prompt: You are terse.
replay:
  max_size: 16
  ttl: 1m
logging:
  format: json
  debug: sessions,correlator
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Server.MaxBodySize != 1<<20 {
		t.Errorf("Server.MaxBodySize = %d", cfg.Server.MaxBodySize)
	}
	if cfg.Engine.Backend != BackendOpenAI || cfg.Engine.Model != "gpt-4o" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Engine.MaxTokens != 1024 || cfg.Engine.MaxSteps != 5 {
		t.Errorf("Engine limits = %d/%d", cfg.Engine.MaxTokens, cfg.Engine.MaxSteps)
	}
	if cfg.Session.ToolCallTimeout != 30*time.Second {
		t.Errorf("Session.ToolCallTimeout = %v", cfg.Session.ToolCallTimeout)
	}
	if cfg.Session.SequentialToolCalls {
		t.Error("Session.SequentialToolCalls = true, want false")
	}
	if cfg.Session.DefaultSystemPrompt != "You are terse." {
		t.Errorf("Session.DefaultSystemPrompt = %q", cfg.Session.DefaultSystemPrompt)
	}
	// Unset fields keep their defaults.
	if cfg.Session.SnapshotTTL != time.Hour {
		t.Errorf("Session.SnapshotTTL = %v, want default 1h", cfg.Session.SnapshotTTL)
	}
	if cfg.Replay.MaxSize != 16 || cfg.Replay.TTL != time.Minute || !cfg.Replay.Enabled {
		t.Errorf("Replay = %+v", cfg.Replay)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Debug != "sessions,correlator" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestEnvOverride(t *testing.T) {
	yamlContent := `
server:
  port: 9090
engine:
  backend: openai
  model: yaml-model
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	t.Setenv("FADEN_PORT", "7070")
	t.Setenv("FADEN_ENGINE", "anthropic")
	t.Setenv("FADEN_MODEL", "env-model")
	t.Setenv("FADEN_TOOL_CALL_TIMEOUT", "45s")
	t.Setenv("FADEN_SEQUENTIAL_TOOL_CALLS", "false")
	t.Setenv("FADEN_REPLAY", "false")
	t.Setenv("FADEN_BATCH_SETTLE", "120ms")

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 (env override)", cfg.Server.Port)
	}
	if cfg.Engine.Backend != BackendAnthropic {
		t.Errorf("Engine.Backend = %q, want anthropic (env override)", cfg.Engine.Backend)
	}
	if cfg.Engine.Model != "env-model" {
		t.Errorf("Engine.Model = %q, want env-model", cfg.Engine.Model)
	}
	if cfg.Session.ToolCallTimeout != 45*time.Second {
		t.Errorf("Session.ToolCallTimeout = %v, want 45s", cfg.Session.ToolCallTimeout)
	}
	if cfg.Session.SequentialToolCalls {
		t.Error("Session.SequentialToolCalls = true, want false")
	}
	if cfg.Replay.Enabled {
		t.Error("Replay.Enabled = true, want false")
	}
	if cfg.Engine.ClaudeCode.BatchSettle != 120*time.Millisecond {
		t.Errorf("ClaudeCode.BatchSettle = %v, want 120ms", cfg.Engine.ClaudeCode.BatchSettle)
	}
}

func TestEnvOverrideInvalidValue(t *testing.T) {
	t.Setenv("FADEN_CONFIG", "")
	t.Setenv("FADEN_IDLE_TIMEOUT", "soon")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for unparseable duration")
	}
	if !strings.Contains(err.Error(), "FADEN_IDLE_TIMEOUT") {
		t.Errorf("error %q should name the variable", err)
	}
}

func TestFileReference(t *testing.T) {
	secretFile := writeTemp(t, "secret-*.txt", "  sk-from-file-123  \n")

	yamlContent := `
engine:
  api_key_file: ` + secretFile + `
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.APIKey != "sk-from-file-123" {
		t.Errorf("Engine.APIKey = %q, want %q", cfg.Engine.APIKey, "sk-from-file-123")
	}
}

func TestFileReferenceDoesNotOverrideExplicitValue(t *testing.T) {
	secretFile := writeTemp(t, "secret-*.txt", "sk-from-file")

	yamlContent := `
engine:
  api_key: sk-explicit
  api_key_file: ` + secretFile + `
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.APIKey != "sk-explicit" {
		t.Errorf("Engine.APIKey = %q, want sk-explicit", cfg.Engine.APIKey)
	}
}

func TestFileReferenceMissingFile(t *testing.T) {
	yamlContent := `
engine:
  api_key_file: /nonexistent/faden/key
`
	tmpFile := writeTemp(t, "config-*.yaml", yamlContent)

	_, err := Load(tmpFile)
	if err == nil || !strings.Contains(err.Error(), "engine.api_key_file") {
		t.Fatalf("err = %v, want engine.api_key_file error", err)
	}
}

func TestFileDiscovery(t *testing.T) {
	envFile := writeTemp(t, "envconfig-*.yaml", `
server:
  port: 5555
`)
	t.Setenv("FADEN_CONFIG", envFile)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555 from FADEN_CONFIG", cfg.Server.Port)
	}

	// An explicit path wins over FADEN_CONFIG.
	explicit := writeTemp(t, "explicit-*.yaml", `
server:
  port: 6666
`)
	cfg, err = Load(explicit)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 6666 {
		t.Errorf("Server.Port = %d, want 6666 from explicit path", cfg.Server.Port)
	}
}

func TestClaudeCodeBridgeURLDerived(t *testing.T) {
	tmpFile := writeTemp(t, "config-*.yaml", `
server:
  port: 9191
engine:
  backend: claudecode
`)

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if want := "http://127.0.0.1:9191/mcp/"; cfg.Engine.ClaudeCode.BridgeURL != want {
		t.Errorf("BridgeURL = %q, want %q", cfg.Engine.ClaudeCode.BridgeURL, want)
	}
	if cfg.Engine.ClaudeCode.Command != "claude" {
		t.Errorf("Command = %q, want claude", cfg.Engine.ClaudeCode.Command)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "bad port",
			modify:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Engine.Backend = "vllm" },
			wantErr: "engine.backend",
		},
		{
			name:    "zero max steps",
			modify:  func(c *Config) { c.Engine.MaxSteps = 0 },
			wantErr: "engine.max_steps",
		},
		{
			name:    "relative base url",
			modify:  func(c *Config) { c.Engine.BaseURL = "localhost:4000" },
			wantErr: "engine.base_url",
		},
		{
			name:    "path only base url",
			modify:  func(c *Config) { c.Engine.BaseURL = "/v1" },
			wantErr: "engine.base_url",
		},
		{
			name:    "base url without host",
			modify:  func(c *Config) { c.Engine.BaseURL = "http:///v1" },
			wantErr: "engine.base_url",
		},
		{
			name:   "absolute base url",
			modify: func(c *Config) { c.Engine.BaseURL = "http://localhost:4000/v1" },
		},
		{
			name: "claudecode without bridge url",
			modify: func(c *Config) {
				c.Engine.Backend = BackendClaudeCode
			},
			wantErr: "engine.claudecode.bridge_url",
		},
		{
			name: "claudecode without batch settle",
			modify: func(c *Config) {
				c.Engine.Backend = BackendClaudeCode
				c.Engine.ClaudeCode.BridgeURL = "http://127.0.0.1:8080/mcp/"
				c.Engine.ClaudeCode.BatchSettle = 0
			},
			wantErr: "engine.claudecode.batch_settle",
		},
		{
			name: "claudecode without command",
			modify: func(c *Config) {
				c.Engine.Backend = BackendClaudeCode
				c.Engine.ClaudeCode.Command = ""
				c.Engine.ClaudeCode.BridgeURL = "http://127.0.0.1:8080/mcp/"
			},
			wantErr: "engine.claudecode.command",
		},
		{
			name:    "zero tool call timeout",
			modify:  func(c *Config) { c.Session.ToolCallTimeout = 0 },
			wantErr: "session.tool_call_timeout",
		},
		{
			name:    "zero replay size",
			modify:  func(c *Config) { c.Replay.MaxSize = 0 },
			wantErr: "replay.max_size",
		},
		{
			name: "zero replay size with replay disabled",
			modify: func(c *Config) {
				c.Replay.Enabled = false
				c.Replay.MaxSize = 0
			},
			wantErr: "",
		},
		{
			name:    "metrics path without slash",
			modify:  func(c *Config) { c.Observability.Metrics.Path = "metrics" },
			wantErr: "observability.metrics.path",
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidationJoinsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.port", "logging.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should contain %q", err, want)
		}
	}
}

func writeTemp(t *testing.T, pattern, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return f.Name()
}
