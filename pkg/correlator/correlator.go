// Package correlator tracks tool calls that an engine turn is suspended on
// until their results arrive on a later, separate request.
//
// Every registered call owns a one-shot completion and an independent
// timer. Resolve, Reject, cancellation and the timer race; the first
// terminal transition wins and every later attempt is a silent no-op.
package correlator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/observability"
)

// DefaultTimeout bounds how long a tool call may stay pending.
const DefaultTimeout = 2 * time.Minute

var (
	// ErrNotFound is returned for call ids that are unknown or already terminal.
	ErrNotFound = errors.New("tool call not found")

	// ErrTimedOut is delivered to waiters whose call was not answered in time.
	ErrTimedOut = errors.New("tool call timed out")

	// ErrCancelled matches every *CancelledError.
	ErrCancelled = errors.New("tool call cancelled")

	// ErrEmptyCallID is returned by Register for calls without an id.
	ErrEmptyCallID = errors.New("tool call id is empty")

	// ErrCallIDInUse is returned by Register when another session is
	// already waiting on a call with the same id.
	ErrCallIDInUse = errors.New("tool call id pending for another session")
)

// Reason tags why a session or call was cancelled.
type Reason string

const (
	ReasonClientDisconnect Reason = "client_disconnect"
	ReasonTimeout          Reason = "timeout"
	ReasonNewInput         Reason = "new_input"
	ReasonIdle             Reason = "idle"
	ReasonExplicit         Reason = "explicit"
	ReasonEngineError      Reason = "engine_error"
	ReasonShutdown         Reason = "shutdown"
)

// CancelledError is delivered to waiters of calls cancelled by CancelAll.
type CancelledError struct {
	Reason Reason
}

func (e *CancelledError) Error() string {
	return "tool call cancelled: " + string(e.Reason)
}

// Is makes errors.Is(err, ErrCancelled) hold for every reason.
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// ReasonOf maps a waiter error to the cancellation reason it implies.
func ReasonOf(err error) Reason {
	var ce *CancelledError
	switch {
	case errors.As(err, &ce):
		return ce.Reason
	case errors.Is(err, ErrTimedOut):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonClientDisconnect
	default:
		return ReasonEngineError
	}
}

// Pending is one outstanding tool call.
type Pending struct {
	CallID    string
	SessionID string
	ToolName  string
	CreatedAt time.Time

	completed atomic.Bool
	done      chan struct{}
	result    conversation.ToolResult
	err       error
	timer     *time.Timer
}

// Done is closed once the call reached a terminal state.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the call completes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (conversation.ToolResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return conversation.ToolResult{}, ctx.Err()
	}
}

// Correlator is the registry of pending tool calls.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Pending
	timeout time.Duration
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates an empty correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		pending: make(map[string]*Pending),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates a pending record for callID and starts its timer. If the
// id is already pending for the same session the existing record is
// returned unchanged; a record of another session is never shared.
func (c *Correlator) Register(callID, sessionID, toolName string) (*Pending, error) {
	if callID == "" {
		return nil, ErrEmptyCallID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[callID]; ok {
		if p.SessionID != sessionID {
			return nil, ErrCallIDInUse
		}
		return p, nil
	}

	p := &Pending{
		CallID:    callID,
		SessionID: sessionID,
		ToolName:  toolName,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
	p.timer = time.AfterFunc(c.timeout, func() {
		if c.complete(p, conversation.ToolResult{}, ErrTimedOut) {
			debug.Log("correlator", "tool call timed out",
				"call", callID, "session", debug.Short(sessionID))
		}
	})
	c.pending[callID] = p
	observability.ToolCallsPending.Inc()

	debug.Log("correlator", "tool call registered",
		"call", callID, "session", debug.Short(sessionID), "tool", toolName)
	return p, nil
}

// Resolve completes callID with result. It reports false when the id is
// unknown or already terminal.
func (c *Correlator) Resolve(callID string, result conversation.ToolResult) bool {
	p := c.lookup(callID)
	if p == nil {
		return false
	}
	if result.CallID == "" {
		result.CallID = callID
	}
	return c.complete(p, result, nil)
}

// Reject completes callID with err. It reports false when the id is unknown
// or already terminal.
func (c *Correlator) Reject(callID string, err error) bool {
	p := c.lookup(callID)
	if p == nil {
		return false
	}
	return c.complete(p, conversation.ToolResult{}, err)
}

// CancelAll rejects every pending call of sessionID with a *CancelledError
// carrying reason. It returns the number of calls it cancelled.
func (c *Correlator) CancelAll(sessionID string, reason Reason) int {
	c.mu.Lock()
	var victims []*Pending
	for _, p := range c.pending {
		if p.SessionID == sessionID {
			victims = append(victims, p)
		}
	}
	c.mu.Unlock()

	n := 0
	for _, p := range victims {
		if c.complete(p, conversation.ToolResult{}, &CancelledError{Reason: reason}) {
			n++
		}
	}
	if n > 0 {
		debug.Log("correlator", "tool calls cancelled",
			"session", debug.Short(sessionID), "count", n, "reason", reason)
	}
	return n
}

// SessionOf returns the session owning a pending call.
func (c *Correlator) SessionOf(callID string) (string, bool) {
	p := c.lookup(callID)
	if p == nil {
		return "", false
	}
	return p.SessionID, true
}

// PendingCount returns the number of pending calls.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingForSession returns the ids of the session's pending calls, oldest first.
func (c *Correlator) PendingForSession(sessionID string) []string {
	c.mu.Lock()
	var ps []*Pending
	for _, p := range c.pending {
		if p.SessionID == sessionID {
			ps = append(ps, p)
		}
	}
	c.mu.Unlock()

	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CallID < ps[j].CallID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.CallID
	}
	return ids
}

func (c *Correlator) lookup(callID string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[callID]
}

// complete performs the one terminal transition of p. Only the first caller
// wins; it removes the record, publishes the outcome and records metrics.
func (c *Correlator) complete(p *Pending, result conversation.ToolResult, err error) bool {
	if !p.completed.CompareAndSwap(false, true) {
		return false
	}

	// p.timer is assigned under c.mu in Register.
	c.mu.Lock()
	p.timer.Stop()
	if c.pending[p.CallID] == p {
		delete(c.pending, p.CallID)
	}
	c.mu.Unlock()

	p.result = result
	p.err = err
	close(p.done)

	observability.ToolCallsPending.Dec()
	observability.ToolCallsTotal.WithLabelValues(outcome(err)).Inc()
	observability.ToolCallWait.Observe(time.Since(p.CreatedAt).Seconds())
	return true
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, ErrTimedOut):
		return "timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "rejected"
	}
}
