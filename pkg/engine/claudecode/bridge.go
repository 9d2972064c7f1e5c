package claudecode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/debug"
)

// ServerName is the MCP server name the CLI sees. Claude Code exposes the
// bridge's tools to the model as mcp__<ServerName>__<tool>.
const ServerName = "gateway"

const toolPrefix = "mcp__" + ServerName + "__"

var errBridgeClosed = errors.New("claudecode: session ended before the tool result arrived")

// Bridge serves the client's tools to Claude Code processes over MCP
// streamable HTTP. Each session gets its own MCP server under
// <mount>/<session id>. A tool call from the CLI blocks until the gateway
// client has executed the tool and its result was delivered.
type Bridge struct {
	mu       sync.Mutex
	sessions map[string]*bridgeSession
	handler  *mcp.StreamableHTTPHandler
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	b := &Bridge{sessions: make(map[string]*bridgeSession)}
	b.handler = mcp.NewStreamableHTTPHandler(b.server, &mcp.StreamableHTTPOptions{
		Logger: slog.Default(),
	})
	return b
}

// ServeHTTP serves MCP requests. The last path segment selects the session.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.handler.ServeHTTP(w, r)
}

// server returns the MCP server of the session named by the request path,
// or nil, which the SDK answers with 400.
func (b *Bridge) server(r *http.Request) *mcp.Server {
	id := path.Base(r.URL.Path)
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		return s.server
	}
	debug.Log("engine", "mcp request for unknown session", "session", debug.Short(id))
	return nil
}

// Len returns the number of open bridge sessions.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// open registers a session and its tools.
func (b *Bridge) open(sessionID string, tools []conversation.ToolDefinition) *bridgeSession {
	bs := &bridgeSession{
		id:      sessionID,
		names:   make(map[string]string, len(tools)),
		calls:   make(map[string]*bridgeCall),
		changed: make(chan struct{}),
		arrived: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	bs.server = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: "1.0.0"}, nil)
	for _, t := range tools {
		name := strings.TrimPrefix(t.Name, toolPrefix)
		bs.names[name] = t.Name
		bs.server.AddTool(&mcp.Tool{
			Name:        name,
			Description: t.Description,
			InputSchema: inputSchema(t.Parameters),
		}, bs.handle)
	}

	b.mu.Lock()
	b.sessions[sessionID] = bs
	b.mu.Unlock()
	return bs
}

// close unregisters a session and fails its waiting tool calls.
func (b *Bridge) close(bs *bridgeSession) {
	b.mu.Lock()
	if b.sessions[bs.id] == bs {
		delete(b.sessions, bs.id)
	}
	b.mu.Unlock()
	bs.close()
}

// inputSchema returns params when it is an object schema, and the empty
// object schema otherwise. The SDK rejects tools with other schemas.
func inputSchema(params json.RawMessage) any {
	var m map[string]any
	if len(params) > 0 && json.Unmarshal(params, &m) == nil && m["type"] == "object" {
		return m
	}
	return map[string]any{"type": "object"}
}

// bridgeCall is one tool call announced by the CLI, waiting for its result.
type bridgeCall struct {
	call    conversation.ToolCall
	claimed bool
	result  chan string
}

// bridgeSession holds the tool calls of one invocation. Calls are announced
// from the CLI's output (expect) and claimed by MCP requests (handle), in
// whichever order the two arrive.
type bridgeSession struct {
	id     string
	server *mcp.Server
	names  map[string]string // bridge tool name -> client tool name

	mu      sync.Mutex
	order   []*bridgeCall
	calls   map[string]*bridgeCall
	waiting int
	changed chan struct{} // closed and replaced whenever calls are added
	arrived chan struct{}
	done    chan struct{}
	once    sync.Once
}

// clientName maps a tool name used by the CLI to the client's name for it.
// Names of tools the bridge does not serve map to "".
func (bs *bridgeSession) clientName(cliName string) string {
	name, ok := strings.CutPrefix(cliName, toolPrefix)
	if !ok {
		return ""
	}
	return bs.names[name]
}

// expect announces calls the CLI is about to make.
func (bs *bridgeSession) expect(calls []conversation.ToolCall) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for _, c := range calls {
		bc := &bridgeCall{call: c, result: make(chan string, 1)}
		bs.order = append(bs.order, bc)
		bs.calls[c.ID] = bc
	}
	close(bs.changed)
	bs.changed = make(chan struct{})
}

// resolve hands results to the calls they answer. Every call of the batch
// is answered; calls without a result get an empty output.
func (bs *bridgeSession) resolve(calls []conversation.ToolCall, results []conversation.ToolResult) {
	byID := make(map[string]string, len(results))
	for _, r := range results {
		byID[r.CallID] = r.Output
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for _, c := range calls {
		if bc, ok := bs.calls[c.ID]; ok {
			bc.result <- byID[c.ID]
			delete(bs.calls, c.ID)
		}
	}
}

// Waiting returns the number of MCP requests currently blocked.
func (bs *bridgeSession) Waiting() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.waiting
}

// claim finds the first unclaimed call for name with equivalent arguments,
// falling back to the first unclaimed call for name. Callers hold mu.
func (bs *bridgeSession) claim(name, args string) *bridgeCall {
	canon := conversation.CanonicalArguments(args)
	var fallback *bridgeCall
	for _, bc := range bs.order {
		if bc.claimed || bc.call.Name != name {
			continue
		}
		if conversation.CanonicalArguments(bc.call.Arguments) == canon {
			bc.claimed = true
			return bc
		}
		if fallback == nil {
			fallback = bc
		}
	}
	if fallback != nil {
		fallback.claimed = true
	}
	return fallback
}

func (bs *bridgeSession) handle(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := bs.names[req.Params.Name]
	args := string(req.Params.Arguments)

	bs.mu.Lock()
	bs.waiting++
	bs.mu.Unlock()
	defer func() {
		bs.mu.Lock()
		bs.waiting--
		bs.mu.Unlock()
	}()
	select {
	case bs.arrived <- struct{}{}:
	default:
	}

	out, err := bs.wait(ctx, name, args)
	if err != nil {
		debug.Log("engine", "bridged tool call failed",
			"session", debug.Short(bs.id), "tool", name, "error", err)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: out}},
	}, nil
}

func (bs *bridgeSession) wait(ctx context.Context, name, args string) (string, error) {
	for {
		bs.mu.Lock()
		bc := bs.claim(name, args)
		changed := bs.changed
		bs.mu.Unlock()

		if bc != nil {
			debug.Log("engine", "bridged tool call claimed",
				"session", debug.Short(bs.id), "call_id", bc.call.ID, "tool", name)
			select {
			case out := <-bc.result:
				return out, nil
			case <-bs.done:
				return "", errBridgeClosed
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		select {
		case <-changed:
		case <-bs.done:
			return "", errBridgeClosed
		case <-ctx.Done():
			return "", fmt.Errorf("no announced call for tool %q: %w", name, ctx.Err())
		}
	}
}

func (bs *bridgeSession) close() {
	bs.once.Do(func() { close(bs.done) })
}
