// Package config provides unified configuration for the faden gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (FADEN_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Engine backends.
const (
	BackendAnthropic  = "anthropic"
	BackendOpenAI     = "openai"
	BackendClaudeCode = "claudecode"
)

// Config holds all configuration for the faden gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Session       SessionConfig       `yaml:"session"`
	Replay        ReplayConfig        `yaml:"replay"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`             // default: "" (all interfaces)
	Port            int           `yaml:"port"`             // default: 8080
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MB
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// EngineConfig selects and configures the agent backend.
type EngineConfig struct {
	Backend    string        `yaml:"backend"`      // "anthropic", "openai" or "claudecode", default: "anthropic"
	BaseURL    string        `yaml:"base_url"`     // optional API endpoint override
	APIKey     string        `yaml:"api_key"`      // optional, SDKs fall back to their env vars
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	Model      string        `yaml:"model"`        // pins the model for every request
	MaxTokens  int           `yaml:"max_tokens"`   // default: 4096
	MaxSteps   int           `yaml:"max_steps"`    // default: 25
	MaxRetries int           `yaml:"max_retries"`  // default: 2
	Timeout    time.Duration `yaml:"timeout"`      // per API request, default: 5m

	ClaudeCode ClaudeCodeConfig `yaml:"claudecode"`
}

// ClaudeCodeConfig holds settings for the Claude Code CLI backend.
type ClaudeCodeConfig struct {
	Command   string   `yaml:"command"`    // default: "claude"
	Args      []string `yaml:"args"`       // extra CLI arguments
	Env       []string `yaml:"env"`        // extra KEY=VALUE entries
	WorkDir   string   `yaml:"work_dir"`   // default: inherited
	BridgeURL string   `yaml:"bridge_url"` // default: derived from server.port
	MaxTurns  int      `yaml:"max_turns"`  // default: 0 (CLI default)

	// BatchSettle is how long to wait for further calls of a parallel batch
	// once the CLI started running tools.
	BatchSettle time.Duration `yaml:"batch_settle"` // default: 50ms
}

// SessionConfig holds agent session policy.
type SessionConfig struct {
	ToolCallTimeout     time.Duration `yaml:"tool_call_timeout"`     // default: 2m
	IdleTimeout         time.Duration `yaml:"idle_timeout"`          // default: 30m
	SweepInterval       time.Duration `yaml:"sweep_interval"`        // default: 1m
	SnapshotTTL         time.Duration `yaml:"snapshot_ttl"`          // default: 1h
	SequentialToolCalls bool          `yaml:"sequential_tool_calls"` // default: true
	DefaultModel        string        `yaml:"default_model"`         // default: "claude-sonnet-4-5"
	DefaultSystemPrompt string        `yaml:"default_system_prompt"`
}

// ReplayConfig holds settings of the replay cache for retried requests.
type ReplayConfig struct {
	Enabled bool          `yaml:"enabled"`  // default: true
	MaxSize int           `yaml:"max_size"` // default: 1024
	TTL     time.Duration `yaml:"ttl"`      // default: 10m
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log output settings. FADEN_DEBUG and FADEN_LOG_LEVEL
// take precedence at runtime.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "INFO"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + itoa(s.Port)
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			MaxBodySize:     10 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			Backend:    BackendAnthropic,
			MaxTokens:  4096,
			MaxSteps:   25,
			MaxRetries: 2,
			Timeout:    5 * time.Minute,
			ClaudeCode: ClaudeCodeConfig{
				Command:     "claude",
				BatchSettle: 50 * time.Millisecond,
			},
		},
		Session: SessionConfig{
			ToolCallTimeout:     2 * time.Minute,
			IdleTimeout:         30 * time.Minute,
			SweepInterval:       time.Minute,
			SnapshotTTL:         time.Hour,
			SequentialToolCalls: true,
			DefaultModel:        "claude-sonnet-4-5",
		},
		Replay: ReplayConfig{
			Enabled: true,
			MaxSize: 1024,
			TTL:     10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
