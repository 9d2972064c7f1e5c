package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be in range.
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}

	// engine.backend must be a known value.
	switch c.Engine.Backend {
	case BackendAnthropic, BackendOpenAI:
		if c.Engine.MaxSteps <= 0 {
			errs = append(errs, fmt.Errorf("engine.max_steps must be > 0, got %d", c.Engine.MaxSteps))
		}
	case BackendClaudeCode:
		if c.Engine.ClaudeCode.Command == "" {
			errs = append(errs, fmt.Errorf("engine.claudecode.command is required when engine.backend is %q", BackendClaudeCode))
		}
		if !absoluteURL(c.Engine.ClaudeCode.BridgeURL) {
			errs = append(errs, fmt.Errorf("engine.claudecode.bridge_url must be an absolute URL, got %q", c.Engine.ClaudeCode.BridgeURL))
		}
		if c.Engine.ClaudeCode.BatchSettle <= 0 {
			errs = append(errs, fmt.Errorf("engine.claudecode.batch_settle must be > 0, got %s", c.Engine.ClaudeCode.BatchSettle))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.backend must be %q, %q or %q, got %q",
			BackendAnthropic, BackendOpenAI, BackendClaudeCode, c.Engine.Backend))
	}

	if c.Engine.BaseURL != "" {
		if !absoluteURL(c.Engine.BaseURL) {
			errs = append(errs, fmt.Errorf("engine.base_url must be an absolute URL, got %q", c.Engine.BaseURL))
		}
	}
	if c.Engine.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("engine.max_tokens must be >= 0, got %d", c.Engine.MaxTokens))
	}

	// Session timers must be positive.
	for _, d := range []struct {
		name string
		ok   bool
	}{
		{"session.tool_call_timeout", c.Session.ToolCallTimeout > 0},
		{"session.idle_timeout", c.Session.IdleTimeout > 0},
		{"session.sweep_interval", c.Session.SweepInterval > 0},
		{"session.snapshot_ttl", c.Session.SnapshotTTL > 0},
	} {
		if !d.ok {
			errs = append(errs, fmt.Errorf("%s must be > 0", d.name))
		}
	}

	if c.Replay.Enabled && c.Replay.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("replay.max_size must be > 0 when replay is enabled, got %d", c.Replay.MaxSize))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	switch c.Logging.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// absoluteURL reports whether s has both a scheme and a host. url.Parse
// alone accepts "localhost:4000" with "localhost" as the scheme.
func absoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
