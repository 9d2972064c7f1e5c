// Package engine defines the contract between faden and the conversational
// engine it fronts. An engine is consumed as an opaque, asynchronous event
// source: it streams text, suspends when it wants client tools executed,
// resumes once their results are delivered, and finally completes or fails.
//
// Backends live in subpackages (anthropic, openai, claudecode). Model API
// backends share the Loop driver; enginetest provides a scripted engine.
package engine

import (
	"context"

	"github.com/rhuss/faden/pkg/conversation"
)

// Engine starts invocations. Implementations must be safe for concurrent use.
type Engine interface {
	// Name returns the backend identifier (e.g., "anthropic", "claudecode").
	Name() string

	// Start begins a new invocation for the given conversation. The returned
	// invocation owns its resources until its event channel is closed or
	// Stop is called.
	Start(ctx context.Context, req StartRequest) (Invocation, error)
}

// StartRequest carries everything an engine needs to run one session.
type StartRequest struct {
	SessionID    string
	Model        string
	SystemPrompt string

	// Messages is the full client-supplied history, system messages excluded.
	Messages []conversation.Message

	// Tools are the client-executed tools the engine may call.
	Tools []conversation.ToolDefinition

	// MaxTokens bounds each model response. Zero uses the backend default.
	MaxTokens int
}

// Invocation is one running engine session.
type Invocation interface {
	// Events returns the ordered event stream. It is closed after a
	// terminal event (EventTurnComplete or EventError) or after Stop.
	Events() <-chan Event

	// Deliver hands the results of the last EventToolUse back to the engine,
	// in the order of the calls it carried.
	Deliver(ctx context.Context, results []conversation.ToolResult) error

	// Stop releases the invocation. It is safe to call more than once.
	Stop()
}
