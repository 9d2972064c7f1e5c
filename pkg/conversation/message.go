package conversation

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

// Message is one entry of a conversation history.
//
// Content is nil when the message carries no text (an assistant message that
// only requests tool calls, for example). ToolCalls is only meaningful on
// assistant messages, ToolCallID only on tool messages.
type Message struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a request by the engine for the caller to run a named tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the client-supplied outcome of a ToolCall. Output is opaque
// and relayed verbatim to the engine.
type ToolResult struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// ToolDefinition describes a tool the client is able to execute.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Text returns a pointer to s, for building messages with content.
func Text(s string) *string {
	return &s
}

// User builds a user message.
func User(text string) Message {
	return Message{Role: RoleUser, Content: Text(text)}
}

// System builds a system message.
func System(text string) Message {
	return Message{Role: RoleSystem, Content: Text(text)}
}

// Assistant builds an assistant message. Empty text yields nil content.
func Assistant(text string, calls ...ToolCall) Message {
	m := Message{Role: RoleAssistant, ToolCalls: calls}
	if text != "" {
		m.Content = Text(text)
	}
	return m
}

// ToolResponse builds a tool message answering callID.
func ToolResponse(callID, output string) Message {
	return Message{Role: RoleTool, Content: Text(output), ToolCallID: callID}
}

// ContentText returns the message content, or "" when absent.
func (m Message) ContentText() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// SplitSystem separates system messages from the rest of the history. The
// texts of all system messages are joined with blank lines, in order.
func SplitSystem(messages []Message) (prompt string, rest []Message) {
	var parts []string
	rest = make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if t := m.ContentText(); t != "" {
				parts = append(parts, t)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
