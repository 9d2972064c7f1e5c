// Package debug provides category-based debug logging for faden.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): FADEN_DEBUG env or logging.debug config
//   - Levels (HOW MUCH detail): FADEN_LOG_LEVEL env or logging.level config
//
// Usage:
//
//	debug.Log("sessions", "state change", "session", id, "to", state)
//	if debug.Enabled("snapshots") { /* expensive formatting */ }
//
// Categories: sessions, snapshots, replay, correlator, serializer, engine,
// gateway, transport, config, all. Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, full engine payloads are logged.
const LevelTrace = slog.LevelDebug - 4

// categories holds the enabled category set. It is swapped atomically by Init.
var categories atomic.Pointer[map[string]bool]

func init() {
	m := parseCategories(os.Getenv("FADEN_DEBUG"))
	categories.Store(&m)
}

// Init configures the debug system and installs the default slog logger.
// Environment variables take precedence over the configured values.
// format selects "text" (default) or "json" output.
func Init(configCategories, configLevel, format string) {
	Setup(os.Stderr, configCategories, configLevel, format)
}

// Setup is Init with an explicit output writer.
func Setup(w io.Writer, configCategories, configLevel, format string) {
	cats := os.Getenv("FADEN_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	m := parseCategories(cats)
	categories.Store(&m)

	level := os.Getenv("FADEN_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	m := *categories.Load()
	return m["all"] || m[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when FADEN_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the sorted list of enabled categories.
func Categories() []string {
	m := *categories.Load()
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Truncate returns s truncated to maxLen bytes, with "..." appended if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Short formats an id for log lines, keeping the first eight characters.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return fmt.Sprintf("%s…", id[:8])
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
