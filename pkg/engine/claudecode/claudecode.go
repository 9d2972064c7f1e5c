// Package claudecode implements engine.Engine on the Claude Code CLI.
//
// Each invocation runs `claude -p --output-format stream-json` as a
// subprocess. The client's tools reach the CLI through an MCP server hosted
// by faden itself (see Bridge), so the CLI's agent loop suspends inside an
// MCP tool call until the gateway client has executed the tool.
package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/engine"
	"github.com/rhuss/faden/pkg/observability"
)

// Name identifies this backend in logs and metrics.
const Name = "claudecode"

const (
	defaultCommand     = "claude"
	defaultBatchSettle = 50 * time.Millisecond
	maxLineSize        = 16 << 20
	stderrTail         = 4096
)

// Config holds configuration for the Claude Code engine.
type Config struct {
	// Command is the CLI executable. Defaults to "claude".
	Command string

	// Args are appended to the generated command line.
	Args []string

	// Env entries are added to the inherited environment.
	Env []string

	// WorkDir is the working directory of the CLI. Empty inherits.
	WorkDir string

	// BridgeURL is the URL under which the CLI reaches the bridge,
	// e.g. "http://127.0.0.1:8080/mcp/". The session id is appended.
	BridgeURL string

	// Model, when set, replaces the model named by the client.
	Model string

	// MaxTurns bounds the CLI's agent loop. Zero leaves it to the CLI.
	MaxTurns int

	// BatchSettle is how long to wait for further announced calls once the
	// CLI started executing tools. Defaults to 50ms.
	BatchSettle time.Duration
}

// Engine starts Claude Code processes.
type Engine struct {
	cfg    Config
	bridge *Bridge
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// New creates a Claude Code engine with its own bridge.
func New(cfg Config) (*Engine, error) {
	if cfg.BridgeURL == "" {
		return nil, errors.New("claudecode: BridgeURL is required")
	}
	if cfg.Command == "" {
		cfg.Command = defaultCommand
	}
	if cfg.BatchSettle <= 0 {
		cfg.BatchSettle = defaultBatchSettle
	}
	return &Engine{cfg: cfg, bridge: NewBridge()}, nil
}

// Name returns the backend identifier.
func (e *Engine) Name() string {
	return Name
}

// Bridge returns the MCP bridge. It must be served at the path BridgeURL
// points to.
func (e *Engine) Bridge() *Bridge {
	return e.bridge
}

// Start launches the CLI for one session.
func (e *Engine) Start(ctx context.Context, req engine.StartRequest) (engine.Invocation, error) {
	bs := e.bridge.open(req.SessionID, req.Tools)

	args, err := e.args(req)
	if err != nil {
		e.bridge.close(bs)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(runCtx, e.cfg.Command, args...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Stdin = strings.NewReader(renderPrompt(req.Messages))
	cmd.WaitDelay = 2 * time.Second
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		e.bridge.close(bs)
		return nil, fmt.Errorf("claudecode: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		e.bridge.close(bs)
		return nil, fmt.Errorf("claudecode: starting %s: %w", e.cfg.Command, err)
	}
	slog.Info("claude code process started",
		"session_id", req.SessionID, "pid", cmd.Process.Pid, "tools", len(req.Tools))

	inv := &invocation{
		Stream: engine.NewStream(cancel),
		cmd:    cmd,
		stderr: stderr,
		bridge: e.bridge,
		bs:     bs,
		settle: e.cfg.BatchSettle,
	}
	go inv.run(runCtx, stdout)
	return inv, nil
}

// args builds the CLI command line. The prompt goes to stdin.
func (e *Engine) args(req engine.StartRequest) ([]string, error) {
	cfg, err := json.Marshal(mcpConfig{MCPServers: map[string]mcpServer{
		ServerName: {Type: "http", URL: strings.TrimRight(e.cfg.BridgeURL, "/") + "/" + req.SessionID},
	}})
	if err != nil {
		return nil, fmt.Errorf("claudecode: %w", err)
	}

	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--strict-mcp-config",
		"--mcp-config", string(cfg),
	}
	if len(req.Tools) > 0 {
		allowed := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			allowed[i] = toolPrefix + strings.TrimPrefix(t.Name, toolPrefix)
		}
		args = append(args, "--allowedTools", strings.Join(allowed, ","))
	}
	model := e.cfg.Model
	if model == "" {
		model = req.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if e.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(e.cfg.MaxTurns))
	}
	return append(args, e.cfg.Args...), nil
}

type invocation struct {
	*engine.Stream
	cmd    *exec.Cmd
	stderr *tailBuffer
	bridge *Bridge
	bs     *bridgeSession
	settle time.Duration
}

// run translates the CLI's output into events. Announced tool calls are
// held until the CLI starts executing them, then emitted as one batch.
func (inv *invocation) run(ctx context.Context, stdout io.Reader) {
	defer inv.Close()
	defer inv.bridge.close(inv.bs)

	lines := make(chan []byte)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64<<10), maxLineSize)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		pending  []conversation.ToolCall
		settle   <-chan time.Time
		start    = time.Now()
		finished bool
	)
	observe := func(outcome string) {
		observability.EngineTurnLatency.WithLabelValues(Name).Observe(time.Since(start).Seconds())
		observability.EngineTurnsTotal.WithLabelValues(Name, outcome).Inc()
		start = time.Now()
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case line, ok := <-lines:
			if !ok {
				break loop
			}
			var msg streamMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				debug.Log("engine", "skipping unparsable cli output", "line", debug.Truncate(string(line), 200))
				continue
			}
			switch msg.Type {
			case "assistant":
				text, calls := assistantTurn(msg.Message, inv.bs.clientName)
				if text != "" && !inv.Emit(ctx, engine.Event{Type: engine.EventText, Text: text}) {
					break loop
				}
				if len(calls) > 0 {
					inv.bs.expect(calls)
					pending = append(pending, calls...)
				}
			case "result":
				finished = true
				if msg.IsError {
					observe("failed")
					reason := msg.Result
					if reason == "" {
						reason = msg.Subtype
					}
					inv.Emit(ctx, engine.Event{Type: engine.EventError, Err: fmt.Errorf("%s: %s", Name, reason)})
				} else {
					observe("completed")
					inv.Emit(ctx, engine.Event{Type: engine.EventTurnComplete, FinishReason: "stop"})
				}
				break loop
			}
			if len(pending) > 0 && settle == nil && inv.bs.Waiting() > 0 {
				settle = time.After(inv.settle)
			}

		case <-inv.bs.arrived:
			if len(pending) > 0 && settle == nil {
				settle = time.After(inv.settle)
			}

		case <-settle:
			settle = nil
			calls := pending
			pending = nil
			observe("tool_calls")
			debug.Log("engine", "cli suspended on tool calls",
				"session", debug.Short(inv.bs.id), "calls", len(calls))
			if !inv.Emit(ctx, engine.Event{Type: engine.EventToolUse, ToolCalls: calls}) {
				break loop
			}
			results, err := inv.Await(ctx)
			if err != nil {
				break loop
			}
			inv.bs.resolve(calls, results)
		}
	}

	err := inv.wait()
	if !finished && ctx.Err() == nil {
		observe("failed")
		msg := "process exited without a result"
		if err != nil {
			msg = err.Error()
		}
		if tail := strings.TrimSpace(inv.stderr.String()); tail != "" {
			msg += ": " + tail
		}
		inv.Emit(ctx, engine.Event{Type: engine.EventError, Err: fmt.Errorf("%s: %s", Name, msg)})
	}
}

// wait reaps the process, killing it when it outlives the invocation.
func (inv *invocation) wait() error {
	done := make(chan error, 1)
	go func() { done <- inv.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		inv.Stop()
		return <-done
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
