package api

import (
	"fmt"

	"github.com/rhuss/faden/pkg/conversation"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxMessages    int
	MaxContentSize int
	MaxTools       int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages:    1000,
		MaxContentSize: 10 * 1024 * 1024, // 10MB
		MaxTools:       128,
	}
}

// ValidateRequest checks a ChatCompletionRequest for validity. It returns an
// *APIError describing the first validation failure, or nil if the request is valid.
func ValidateRequest(req *ChatCompletionRequest, cfg ValidationConfig) *APIError {
	if req.Model == "" {
		return NewInvalidRequestError("model", "model is required")
	}

	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages", "messages must contain at least one message")
	}

	if cfg.MaxMessages > 0 && len(req.Messages) > cfg.MaxMessages {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("messages exceeds maximum of %d", cfg.MaxMessages))
	}

	if cfg.MaxTools > 0 && len(req.Tools) > cfg.MaxTools {
		return NewInvalidRequestError("tools",
			fmt.Sprintf("tools exceeds maximum of %d", cfg.MaxTools))
	}

	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return NewInvalidRequestError("max_tokens", "max_tokens must be positive")
	}

	if req.MaxCompletionTokens != nil && *req.MaxCompletionTokens <= 0 {
		return NewInvalidRequestError("max_completion_tokens", "max_completion_tokens must be positive")
	}

	if req.Temperature != nil {
		if *req.Temperature < 0.0 || *req.Temperature > 2.0 {
			return NewInvalidRequestError("temperature", "temperature must be between 0.0 and 2.0")
		}
	}

	if req.TopP != nil {
		if *req.TopP < 0.0 || *req.TopP > 1.0 {
			return NewInvalidRequestError("top_p", "top_p must be between 0.0 and 1.0")
		}
	}

	if req.StreamOptions != nil && !req.Stream {
		return NewInvalidRequestError("stream_options", "stream_options requires stream to be true")
	}

	names := make(map[string]bool, len(req.Tools))
	for i, tool := range req.Tools {
		param := fmt.Sprintf("tools[%d]", i)
		if tool.Type != "function" {
			return NewInvalidRequestError(param+".type", "only function tools are supported")
		}
		if tool.Function.Name == "" {
			return NewInvalidRequestError(param+".function.name", "tool name is required")
		}
		if names[tool.Function.Name] {
			return NewInvalidRequestError(param+".function.name",
				fmt.Sprintf("duplicate tool name %q", tool.Function.Name))
		}
		names[tool.Function.Name] = true
	}

	for i := range req.Messages {
		if apiErr := validateMessage(&req.Messages[i], i, cfg); apiErr != nil {
			return apiErr
		}
	}

	return nil
}

func validateMessage(m *ChatMessage, i int, cfg ValidationConfig) *APIError {
	param := fmt.Sprintf("messages[%d]", i)

	role := conversation.Role(m.Role)
	if !role.Valid() && m.Role != "developer" {
		return NewInvalidRequestError(param+".role", fmt.Sprintf("invalid role %q", m.Role))
	}

	text, _, err := ContentText(m.Content)
	if err != nil {
		return NewInvalidRequestError(param+".content", err.Error())
	}
	if cfg.MaxContentSize > 0 && len(text) > cfg.MaxContentSize {
		return NewInvalidRequestError(param+".content",
			fmt.Sprintf("content exceeds maximum size of %d bytes", cfg.MaxContentSize))
	}

	if len(m.ToolCalls) > 0 && role != conversation.RoleAssistant {
		return NewInvalidRequestError(param+".tool_calls", "tool_calls are only allowed on assistant messages")
	}
	for j, tc := range m.ToolCalls {
		if tc.ID == "" || tc.Function.Name == "" {
			return NewInvalidRequestError(fmt.Sprintf("%s.tool_calls[%d]", param, j),
				"tool calls require an id and a function name")
		}
	}

	if role == conversation.RoleTool && m.ToolCallID == "" {
		return NewInvalidRequestError(param+".tool_call_id", "tool messages require tool_call_id")
	}
	if role != conversation.RoleTool && m.ToolCallID != "" {
		return NewInvalidRequestError(param+".tool_call_id", "tool_call_id is only allowed on tool messages")
	}

	return nil
}
