package api

import (
	"fmt"
	"strings"

	"github.com/rhuss/faden/pkg/conversation"
)

// ContentText extracts the text of a message content value. Content may be
// absent (nil), a string, or an array of content parts of which only "text"
// parts are supported. The boolean reports whether content was present.
func ContentText(content any) (string, bool, error) {
	switch c := content.(type) {
	case nil:
		return "", false, nil
	case string:
		return c, true, nil
	case []any:
		var sb strings.Builder
		for i, part := range c {
			p, ok := part.(map[string]any)
			if !ok {
				return "", false, fmt.Errorf("content part %d is not an object", i)
			}
			if typ, _ := p["type"].(string); typ != "text" {
				return "", false, fmt.Errorf("content part %d: unsupported type %q", i, p["type"])
			}
			text, _ := p["text"].(string)
			sb.WriteString(text)
		}
		return sb.String(), true, nil
	default:
		return "", false, fmt.Errorf("unsupported content of type %T", content)
	}
}

// ToConversation converts wire messages into the conversation model, system
// messages included.
func ToConversation(msgs []ChatMessage) ([]conversation.Message, *APIError) {
	out := make([]conversation.Message, 0, len(msgs))
	for i, m := range msgs {
		param := fmt.Sprintf("messages[%d]", i)

		text, present, err := ContentText(m.Content)
		if err != nil {
			return nil, NewInvalidRequestError(param+".content", err.Error())
		}

		role := conversation.Role(m.Role)
		if role == "developer" {
			role = conversation.RoleSystem
		}

		// Clients echo tool-calling assistant messages with either null or
		// empty content; both mean no text.
		if role == conversation.RoleAssistant && len(m.ToolCalls) > 0 && text == "" {
			present = false
		}

		msg := conversation.Message{Role: role, ToolCallID: m.ToolCallID}
		if present {
			msg.Content = conversation.Text(text)
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, conversation.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out = append(out, msg)
	}
	return out, nil
}

// ToolDefinitions converts wire tool definitions.
func ToolDefinitions(tools []ChatTool) []conversation.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]conversation.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = conversation.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		}
	}
	return defs
}

// FromToolCalls converts engine tool calls to their wire form.
func FromToolCalls(calls []conversation.ToolCall) []ChatToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ChatToolCall, len(calls))
	for i, c := range calls {
		args := c.Arguments
		if args == "" {
			args = "{}"
		}
		out[i] = ChatToolCall{
			ID:       c.ID,
			Type:     "function",
			Function: ChatFunctionCall{Name: c.Name, Arguments: args},
		}
	}
	return out
}

// FromMessage converts a conversation message to its wire form.
func FromMessage(m conversation.Message) ChatMessage {
	cm := ChatMessage{
		Role:       string(m.Role),
		ToolCalls:  FromToolCalls(m.ToolCalls),
		ToolCallID: m.ToolCallID,
	}
	if m.Content != nil {
		cm.Content = *m.Content
	}
	return cm
}
