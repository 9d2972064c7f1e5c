package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/kaptinlin/jsonrepair"

	"github.com/rhuss/faden/pkg/conversation"
)

// messageParams converts the neutral history into Messages API turns.
// Tool messages become tool_result blocks of a user turn, and consecutive
// turns of the same role are merged since the API requires alternation.
func messageParams(history []conversation.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	add := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range history {
		switch m.Role {
		case conversation.RoleUser:
			if text := m.ContentText(); text != "" {
				add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(text))
			}
		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text := m.ContentText(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			add(anthropic.MessageParamRoleAssistant, blocks...)
		case conversation.RoleTool:
			add(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.ContentText(), false))
		}
	}
	return out
}

// toolInput turns client supplied arguments into a tool_use input object.
// Clients echo back whatever they received, so malformed JSON is repaired
// where possible.
func toolInput(args string) any {
	if args == "" {
		return map[string]any{}
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	if repaired, err := jsonrepair.JSONRepair(args); err == nil && json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired)
	}
	return map[string]any{}
}

// toolParams converts client tool definitions into Anthropic tools.
func toolParams(defs []conversation.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if len(d.Parameters) > 0 {
			if err := json.Unmarshal(d.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %q: invalid parameters schema: %w", d.Name, err)
			}
		}
		t := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   schema.Required,
		}, d.Name)
		if d.Description != "" {
			t.OfTool.Description = anthropic.String(d.Description)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// fromContent splits an accumulated response into its text and tool calls.
func fromContent(blocks []anthropic.ContentBlockUnion) (string, []conversation.ToolCall) {
	var text string
	var calls []conversation.ToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			text += b.Text
		case "tool_use":
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, conversation.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	return text, calls
}
