package claudecode

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/faden/pkg/conversation"
)

// streamMessage is one line of `claude --output-format stream-json`.
type streamMessage struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Message   *streamContent `json:"message,omitempty"`
	Result    string         `json:"result,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type streamContent struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// mcpConfig is the value of --mcp-config.
type mcpConfig struct {
	MCPServers map[string]mcpServer `json:"mcpServers"`
}

type mcpServer struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// assistantTurn extracts the text and the bridged tool calls of an
// assistant line. Calls to tools the bridge does not serve are skipped;
// the CLI handles those itself.
func assistantTurn(c *streamContent, clientName func(string) string) (string, []conversation.ToolCall) {
	if c == nil {
		return "", nil
	}
	var text strings.Builder
	var calls []conversation.ToolCall
	for _, b := range c.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			name := clientName(b.Name)
			if name == "" {
				continue
			}
			args := string(b.Input)
			if args == "" || args == "null" {
				args = "{}"
			}
			calls = append(calls, conversation.ToolCall{ID: b.ID, Name: name, Arguments: args})
		}
	}
	return text.String(), calls
}

// renderPrompt turns the history into the prompt fed to the CLI on stdin.
// A lone user message is passed through; longer histories are rendered as
// a transcript that ends with the latest message.
func renderPrompt(history []conversation.Message) string {
	if len(history) == 1 && history[0].Role == conversation.RoleUser {
		return history[0].ContentText()
	}

	var sb strings.Builder
	sb.WriteString("Continue the following conversation. Reply to the last message.\n\n")
	for _, m := range history {
		switch m.Role {
		case conversation.RoleUser:
			fmt.Fprintf(&sb, "User: %s\n\n", m.ContentText())
		case conversation.RoleAssistant:
			if t := m.ContentText(); t != "" {
				fmt.Fprintf(&sb, "Assistant: %s\n\n", t)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&sb, "Assistant called %s (id %s) with %s\n\n", tc.Name, tc.ID, tc.Arguments)
			}
		case conversation.RoleTool:
			fmt.Fprintf(&sb, "Result of %s: %s\n\n", m.ToolCallID, m.ContentText())
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
