// Package serializer turns one multi-call engine turn into single-call round
// trips for clients that can only handle one outstanding tool call, and
// reassembles the results in original call order.
package serializer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/debug"
)

var (
	// ErrNoBatch is returned when a session has no active batch.
	ErrNoBatch = errors.New("no sequential batch for session")

	// ErrUnknownCall is returned for results whose call id is not part of
	// the session's batch.
	ErrUnknownCall = errors.New("tool call not part of batch")
)

// Batch is the buffered state of one serialized turn.
type Batch struct {
	SessionID string
	Calls     []conversation.ToolCall
	Results   map[string]conversation.ToolResult
	Next      int
}

// Step is the outcome of recording one client result.
type Step struct {
	// Next is the call to hand to the client, when calls remain.
	Next *conversation.ToolCall

	// Done is set once every result arrived; Results is in call order.
	Done    bool
	Results []conversation.ToolResult
}

// Serializer holds the active batches, at most one per session.
type Serializer struct {
	mu      sync.Mutex
	batches map[string]*Batch
}

// New creates an empty serializer.
func New() *Serializer {
	return &Serializer{batches: make(map[string]*Batch)}
}

// Begin starts a batch for calls and returns the first call. A single call
// needs no buffering and leaves no batch behind. Beginning a batch replaces
// any previous batch of the session.
func (s *Serializer) Begin(sessionID string, calls []conversation.ToolCall) conversation.ToolCall {
	if len(calls) == 0 {
		return conversation.ToolCall{}
	}
	if len(calls) == 1 {
		return calls[0]
	}

	b := &Batch{
		SessionID: sessionID,
		Calls:     append([]conversation.ToolCall(nil), calls...),
		Results:   make(map[string]conversation.ToolResult, len(calls)),
		Next:      1,
	}

	s.mu.Lock()
	s.batches[sessionID] = b
	s.mu.Unlock()

	debug.Log("serializer", "batch started", "session", debug.Short(sessionID), "calls", len(calls))
	return b.Calls[0]
}

// OnClientResult records result for the session's batch. While calls remain
// it returns the next call by original index; once all results are in it
// releases the batch and returns them in original call order.
func (s *Serializer) OnClientResult(sessionID string, result conversation.ToolResult) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[sessionID]
	if !ok {
		return Step{}, ErrNoBatch
	}
	if !b.contains(result.CallID) {
		return Step{}, fmt.Errorf("%w: %s", ErrUnknownCall, result.CallID)
	}
	b.Results[result.CallID] = result

	// Hand out calls that have not been handed out yet, in original order.
	for b.Next < len(b.Calls) {
		c := b.Calls[b.Next]
		if _, answered := b.Results[c.ID]; answered {
			b.Next++
			continue
		}
		b.Next++
		debug.Log("serializer", "next call", "session", debug.Short(sessionID), "call", c.ID)
		return Step{Next: &c}, nil
	}

	if len(b.Results) < len(b.Calls) {
		// Every call was handed out but some results are still missing;
		// re-offer the first unanswered one.
		for _, c := range b.Calls {
			if _, answered := b.Results[c.ID]; !answered {
				return Step{Next: &c}, nil
			}
		}
	}

	ordered := make([]conversation.ToolResult, len(b.Calls))
	for i, c := range b.Calls {
		ordered[i] = b.Results[c.ID]
	}
	delete(s.batches, sessionID)

	debug.Log("serializer", "batch complete", "session", debug.Short(sessionID), "results", len(ordered))
	return Step{Done: true, Results: ordered}, nil
}

// Current returns the call of the session's batch most recently handed
// out, for re-sending on a retried request.
func (s *Serializer) Current(sessionID string) (conversation.ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[sessionID]
	if !ok || b.Next == 0 {
		return conversation.ToolCall{}, false
	}
	return b.Calls[b.Next-1], true
}

// Active reports whether the session has a batch in progress.
func (s *Serializer) Active(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batches[sessionID]
	return ok
}

// Release drops the session's batch, if any.
func (s *Serializer) Release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, sessionID)
}

// Len returns the number of active batches.
func (s *Serializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (b *Batch) contains(callID string) bool {
	for _, c := range b.Calls {
		if c.ID == callID {
			return true
		}
	}
	return false
}
