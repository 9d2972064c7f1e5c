package claudecode

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/faden/pkg/conversation"
)

func bridgeTools() []conversation.ToolDefinition {
	return []conversation.ToolDefinition{
		{
			Name:        "mcp__gateway__get_weather",
			Description: "Weather by city",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		},
		{Name: "search"},
	}
}

// connect attaches an MCP client to the session's server through in-memory
// transports.
func connect(t *testing.T, bs *bridgeSession) *mcp.ClientSession {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = bs.server.Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

type callOutcome struct {
	res *mcp.CallToolResult
	err error
}

func callAsync(cs *mcp.ClientSession, name string, args map[string]any) <-chan callOutcome {
	out := make(chan callOutcome, 1)
	go func() {
		res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
		out <- callOutcome{res, err}
	}()
	return out
}

func waitForWaiting(t *testing.T, bs *bridgeSession, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bs.Waiting() < n {
		if time.Now().After(deadline) {
			t.Fatalf("waiting = %d, want %d", bs.Waiting(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func outcomeText(t *testing.T, ch <-chan callOutcome) (string, bool) {
	t.Helper()
	select {
	case o := <-ch:
		if o.err != nil {
			t.Fatalf("CallTool: %v", o.err)
		}
		var text string
		for _, c := range o.res.Content {
			if tc, ok := c.(*mcp.TextContent); ok {
				text += tc.Text
			}
		}
		return text, o.res.IsError
	case <-time.After(2 * time.Second):
		t.Fatal("tool call did not return")
	}
	return "", false
}

func TestBridgeListsToolsWithoutPrefix(t *testing.T) {
	b := NewBridge()
	bs := b.open("s1", bridgeTools())
	defer b.close(bs)
	cs := connect(t, bs)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	if len(names) != 2 || !names["get_weather"] || !names["search"] {
		t.Errorf("tools = %v", names)
	}
}

func TestBridgeCallWaitsForResult(t *testing.T) {
	b := NewBridge()
	bs := b.open("s1", bridgeTools())
	defer b.close(bs)
	cs := connect(t, bs)

	// The MCP request arrives before the call was announced.
	out := callAsync(cs, "get_weather", map[string]any{"city": "Berlin"})
	waitForWaiting(t, bs, 1)

	calls := []conversation.ToolCall{{ID: "toolu_1", Name: "mcp__gateway__get_weather", Arguments: `{"city": "Berlin"}`}}
	bs.expect(calls)
	select {
	case <-out:
		t.Fatal("call returned before a result was delivered")
	case <-time.After(50 * time.Millisecond):
	}

	bs.resolve(calls, []conversation.ToolResult{{CallID: "toolu_1", Output: "sunny"}})
	if text, isErr := outcomeText(t, out); text != "sunny" || isErr {
		t.Errorf("result = %q (error %v), want sunny", text, isErr)
	}
}

func TestBridgeMatchesCallsByArguments(t *testing.T) {
	b := NewBridge()
	bs := b.open("s1", bridgeTools())
	defer b.close(bs)
	cs := connect(t, bs)

	calls := []conversation.ToolCall{
		{ID: "a", Name: "mcp__gateway__get_weather", Arguments: `{"city":"Berlin"}`},
		{ID: "b", Name: "mcp__gateway__get_weather", Arguments: `{"city":"Paris"}`},
	}
	bs.expect(calls)
	bs.resolve(calls, []conversation.ToolResult{{CallID: "a", Output: "berlin"}, {CallID: "b", Output: "paris"}})

	if text, _ := outcomeText(t, callAsync(cs, "get_weather", map[string]any{"city": "Paris"})); text != "paris" {
		t.Errorf("Paris result = %q", text)
	}
	if text, _ := outcomeText(t, callAsync(cs, "get_weather", map[string]any{"city": "Berlin"})); text != "berlin" {
		t.Errorf("Berlin result = %q", text)
	}
}

func TestBridgeCloseFailsWaitingCalls(t *testing.T) {
	b := NewBridge()
	bs := b.open("s1", bridgeTools())
	cs := connect(t, bs)

	out := callAsync(cs, "search", map[string]any{"q": "go"})
	waitForWaiting(t, bs, 1)
	b.close(bs)

	text, isErr := outcomeText(t, out)
	if !isErr || text == "" {
		t.Errorf("result = %q (error %v), want error result", text, isErr)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d after close", b.Len())
	}
}

func TestBridgeServesSessionsOverHTTP(t *testing.T) {
	b := NewBridge()
	bs := b.open("sess-1", bridgeTools())
	defer b.close(bs)
	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)

	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp/sess-1", MaxRetries: -1}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer cs.Close()
	res, err := cs.ListTools(ctx, nil)
	if err != nil || len(res.Tools) != 2 {
		t.Fatalf("ListTools = %v, %v", res, err)
	}

	if _, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp/unknown", MaxRetries: -1}, nil); err == nil {
		t.Error("expected connect to unknown session to fail")
	}
}

func TestClientName(t *testing.T) {
	b := NewBridge()
	bs := b.open("s1", bridgeTools())
	defer b.close(bs)

	tests := map[string]string{
		"mcp__gateway__get_weather": "mcp__gateway__get_weather",
		"mcp__gateway__search":      "search",
		"mcp__gateway__unknown":     "",
		"Bash":                      "",
	}
	for in, want := range tests {
		if got := bs.clientName(in); got != want {
			t.Errorf("clientName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInputSchemaFallback(t *testing.T) {
	tests := []struct {
		params string
		want   string
	}{
		{"", "object"},
		{`{"type":"array"}`, "object"},
		{`not json`, "object"},
		{`{"type":"object","properties":{"x":{"type":"number"}}}`, "object"},
	}
	for _, tt := range tests {
		m, ok := inputSchema(json.RawMessage(tt.params)).(map[string]any)
		if !ok || m["type"] != tt.want {
			t.Errorf("inputSchema(%q) = %v", tt.params, m)
		}
	}
	m := inputSchema(json.RawMessage(`{"type":"object","properties":{"x":{"type":"number"}}}`)).(map[string]any)
	if _, ok := m["properties"]; !ok {
		t.Error("object schema properties dropped")
	}
}
