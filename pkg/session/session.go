// Package session owns the live engine sessions: the mapping from session
// id to a running engine invocation and its suspend/resume state.
//
// Each session runs one consumer goroutine that reads the invocation's
// events strictly in emission order, registers tool calls with the
// correlator, waits for their results and resumes the engine. Requests
// observe a session through its ordered Update stream.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/correlator"
)

var (
	// ErrNotFound is returned for unknown or already ended session ids.
	ErrNotFound = errors.New("session not found")

	// ErrExists is returned when creating a session whose id is live.
	ErrExists = errors.New("session already exists")

	// ErrInvalidTransition is returned for a state change the current
	// state does not allow.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrEngineClosed is reported when an engine closes its event stream
	// without a terminal event.
	ErrEngineClosed = errors.New("engine closed event stream unexpectedly")
)

// State is a session lifecycle state.
type State int

const (
	StateActive State = iota
	StateWaitingForTool
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWaitingForTool:
		return "waiting_for_tool"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Completed or Aborted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// EngineError wraps a failure of the underlying engine invocation.
type EngineError struct {
	SessionID string
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("session %s: engine error: %v", e.SessionID, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// UpdateKind classifies an Update.
type UpdateKind int

const (
	UpdateText      UpdateKind = iota // Text delta
	UpdateToolCalls                   // Engine suspended on tool calls
	UpdateCompleted                   // Final answer done
	UpdateFailed                      // Engine error
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateText:
		return "text"
	case UpdateToolCalls:
		return "tool_calls"
	case UpdateCompleted:
		return "completed"
	case UpdateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is one item of a session's update stream.
type Update struct {
	Kind         UpdateKind
	Text         string
	ToolCalls    []conversation.ToolCall
	FinishReason string
	Err          error
}

// Info is a point-in-time view of a session.
type Info struct {
	ID             string            `json:"id"`
	Model          string            `json:"model"`
	Engine         string            `json:"engine"`
	State          string            `json:"state"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	PendingCalls   []string          `json:"pending_calls,omitempty"`
	Reason         correlator.Reason `json:"reason,omitempty"`
}
