// Package enginetest provides a scripted, in-memory engine for tests of the
// session and gateway layers.
package enginetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/engine"
)

// Turn is one scripted model response.
type Turn struct {
	Text      string
	ToolCalls []conversation.ToolCall
	Err       error
}

// Engine is a scripted engine. Each step of every invocation answers with
// Respond when set, otherwise with the next entry of Turns. An exhausted
// script answers with an empty final turn.
type Engine struct {
	// Respond computes a turn from the invocation's history so far.
	Respond func(req engine.StartRequest, history []conversation.Message) Turn

	// StartErr, if set, is returned by Start.
	StartErr error

	mu      sync.Mutex
	turns   []Turn
	starts  []engine.StartRequest
	results [][]conversation.ToolResult
	stops   atomic.Int32
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine answering with turns in order.
func New(turns ...Turn) *Engine {
	return &Engine{turns: turns}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "scripted" }

// Start implements engine.Engine.
func (e *Engine) Start(ctx context.Context, req engine.StartRequest) (engine.Invocation, error) {
	if e.StartErr != nil {
		return nil, e.StartErr
	}

	e.mu.Lock()
	e.starts = append(e.starts, req)
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inv := &invocation{Stream: engine.NewStream(cancel), engine: e}
	st := &stepper{
		engine:  e,
		req:     req,
		history: append([]conversation.Message(nil), req.Messages...),
	}
	go engine.Loop(runCtx, inv.Stream, e.Name(), 0, st)
	return inv, nil
}

// Push appends turns to the script.
func (e *Engine) Push(turns ...Turn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, turns...)
}

// Starts returns the requests of every Start call so far.
func (e *Engine) Starts() []engine.StartRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.StartRequest(nil), e.starts...)
}

// Delivered returns every result batch resumed into any invocation.
func (e *Engine) Delivered() [][]conversation.ToolResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]conversation.ToolResult(nil), e.results...)
}

// Stops returns how many invocations were stopped.
func (e *Engine) Stops() int {
	return int(e.stops.Load())
}

func (e *Engine) next(req engine.StartRequest, history []conversation.Message) Turn {
	if e.Respond != nil {
		return e.Respond(req, history)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.turns) == 0 {
		return Turn{}
	}
	t := e.turns[0]
	e.turns = e.turns[1:]
	return t
}

type invocation struct {
	*engine.Stream
	engine *Engine
	once   sync.Once
}

func (i *invocation) Stop() {
	i.once.Do(func() { i.engine.stops.Add(1) })
	i.Stream.Stop()
}

type stepper struct {
	engine  *Engine
	req     engine.StartRequest
	history []conversation.Message
	text    string
}

func (s *stepper) Step(ctx context.Context, emit func(string)) ([]conversation.ToolCall, string, error) {
	t := s.engine.next(s.req, s.history)
	if t.Err != nil {
		return nil, "", t.Err
	}
	emit(t.Text)
	s.text = t.Text
	if len(t.ToolCalls) == 0 {
		s.history = append(s.history, conversation.Assistant(t.Text))
	}
	return t.ToolCalls, "stop", nil
}

func (s *stepper) Resume(calls []conversation.ToolCall, results []conversation.ToolResult) {
	s.engine.mu.Lock()
	s.engine.results = append(s.engine.results, results)
	s.engine.mu.Unlock()
	s.history = engine.AppendToolRound(s.history, s.text, calls, results)
}
