package engine

import (
	"errors"

	"github.com/rhuss/faden/pkg/conversation"
)

// ErrStopped is returned when delivering to an invocation that was stopped.
var ErrStopped = errors.New("engine: invocation stopped")

// EventType classifies an engine event.
type EventType int

const (
	EventText         EventType = iota // Incremental assistant text
	EventToolUse                       // Engine suspended, awaiting tool results
	EventTurnComplete                  // Final answer produced
	EventError                         // Invocation failed
)

// String returns the event type name used in logs.
func (t EventType) String() string {
	switch t {
	case EventText:
		return "text"
	case EventToolUse:
		return "tool_use"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single item of an invocation's event stream.
type Event struct {
	Type EventType

	// Text is the delta for EventText.
	Text string

	// ToolCalls is populated for EventToolUse, in engine order.
	ToolCalls []conversation.ToolCall

	// FinishReason is populated for EventTurnComplete ("stop", "length").
	FinishReason string

	// Err is populated for EventError.
	Err error
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	return e.Type == EventTurnComplete || e.Type == EventError
}
