package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, FADEN_CONFIG env, ./config.yaml, /etc/faden/config.yaml)
//  3. FADEN_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Derived values and validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. FADEN_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/faden/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("FADEN_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/faden/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string) error
}

var envOverrides = []envOverride{
	{"FADEN_HOST", func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{"FADEN_PORT", intVar(func(c *Config) *int { return &c.Server.Port })},
	{"FADEN_ENGINE", func(c *Config, v string) error { c.Engine.Backend = v; return nil }},
	{"FADEN_BASE_URL", func(c *Config, v string) error { c.Engine.BaseURL = v; return nil }},
	{"FADEN_API_KEY", func(c *Config, v string) error { c.Engine.APIKey = v; return nil }},
	{"FADEN_MODEL", func(c *Config, v string) error { c.Engine.Model = v; return nil }},
	{"FADEN_MAX_TOKENS", intVar(func(c *Config) *int { return &c.Engine.MaxTokens })},
	{"FADEN_MAX_STEPS", intVar(func(c *Config) *int { return &c.Engine.MaxSteps })},
	{"FADEN_CLAUDE_COMMAND", func(c *Config, v string) error { c.Engine.ClaudeCode.Command = v; return nil }},
	{"FADEN_BRIDGE_URL", func(c *Config, v string) error { c.Engine.ClaudeCode.BridgeURL = v; return nil }},
	{"FADEN_BATCH_SETTLE", durationVar(func(c *Config) *time.Duration { return &c.Engine.ClaudeCode.BatchSettle })},
	{"FADEN_TOOL_CALL_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Session.ToolCallTimeout })},
	{"FADEN_IDLE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Session.IdleTimeout })},
	{"FADEN_SNAPSHOT_TTL", durationVar(func(c *Config) *time.Duration { return &c.Session.SnapshotTTL })},
	{"FADEN_SEQUENTIAL_TOOL_CALLS", boolVar(func(c *Config) *bool { return &c.Session.SequentialToolCalls })},
	{"FADEN_DEFAULT_MODEL", func(c *Config, v string) error { c.Session.DefaultModel = v; return nil }},
	{"FADEN_SYSTEM_PROMPT", func(c *Config, v string) error { c.Session.DefaultSystemPrompt = v; return nil }},
	{"FADEN_REPLAY", boolVar(func(c *Config) *bool { return &c.Replay.Enabled })},
	{"FADEN_METRICS", boolVar(func(c *Config) *bool { return &c.Observability.Metrics.Enabled })},
	{"FADEN_LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

// applyEnvOverrides maps FADEN_* environment variables to config fields.
// Unparseable values are reported rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		v := os.Getenv(o.name)
		if v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// The file is only read when the value field is empty.
func resolveFileReferences(cfg *Config) error {
	// engine.api_key_file -> engine.api_key
	if cfg.Engine.APIKeyFile != "" && cfg.Engine.APIKey == "" {
		val, err := readSecretFile(cfg.Engine.APIKeyFile)
		if err != nil {
			return fmt.Errorf("engine.api_key_file: %w", err)
		}
		cfg.Engine.APIKey = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// applyDerived fills values computed from other settings.
func (c *Config) applyDerived() {
	// The CLI runs on the same host and reaches the bridge through loopback.
	if c.Engine.Backend == BackendClaudeCode && c.Engine.ClaudeCode.BridgeURL == "" && c.Server.Port > 0 {
		c.Engine.ClaudeCode.BridgeURL = "http://127.0.0.1:" + itoa(c.Server.Port) + "/mcp/"
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
