package openai

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/rhuss/faden/pkg/conversation"
)

// messageParams converts the neutral history into Chat Completions
// messages, with the system prompt first.
func messageParams(system string, history []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.ContentText()))
		case conversation.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.ContentText()))
		case conversation.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(m.ContentText()))
				continue
			}
			asst := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls)),
			}
			if m.Content != nil {
				asst.Content.OfString = openai.String(*m.Content)
			}
			for i, tc := range m.ToolCalls {
				asst.ToolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		case conversation.RoleTool:
			msgs = append(msgs, openai.ToolMessage(m.ContentText(), m.ToolCallID))
		}
	}
	return msgs
}

// toolParams converts client tool definitions into function tools.
func toolParams(defs []conversation.ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		fn := openai.FunctionDefinitionParam{Name: d.Name}
		if d.Description != "" {
			fn.Description = openai.String(d.Description)
		}
		if len(d.Parameters) > 0 {
			var params openai.FunctionParameters
			if err := json.Unmarshal(d.Parameters, &params); err != nil {
				return nil, fmt.Errorf("tool %q: invalid parameters schema: %w", d.Name, err)
			}
			fn.Parameters = params
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools, nil
}
