package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/observability"
)

// DefaultMaxSteps bounds the model round trips of one invocation.
const DefaultMaxSteps = 25

// ErrMaxSteps is reported when an invocation exceeds its step budget.
var ErrMaxSteps = errors.New("engine: maximum number of steps reached")

// Stepper performs one model round trip for a backend that answers one
// request per step. Loop calls Step, and if it produced tool calls, waits
// for their results and hands them to Resume before the next Step.
type Stepper interface {
	// Step calls the model with the current history. Text deltas are passed
	// to emit as they arrive. It returns the tool calls the model requested,
	// if any, and the finish reason.
	Step(ctx context.Context, emit func(text string)) (calls []conversation.ToolCall, finish string, err error)

	// Resume appends the completed tool round to the history.
	Resume(calls []conversation.ToolCall, results []conversation.ToolResult)
}

// Loop drives st until it produces a final answer, fails, or the stream is
// stopped. It always closes s on return. name labels metrics and logs.
func Loop(ctx context.Context, s *Stream, name string, maxSteps int, st Stepper) {
	defer s.Close()

	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	emitText := func(text string) {
		if text != "" {
			s.Emit(ctx, Event{Type: EventText, Text: text})
		}
	}

	for step := 0; step < maxSteps; step++ {
		start := time.Now()
		calls, finish, err := st.Step(ctx, emitText)
		observability.EngineTurnLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				// Stopped or cancelled: nobody is listening any more.
				return
			}
			observability.EngineTurnsTotal.WithLabelValues(name, "failed").Inc()
			slog.Warn("engine step failed", "engine", name, "step", step, "error", err)
			s.Emit(ctx, Event{Type: EventError, Err: fmt.Errorf("%s: %w", name, err)})
			return
		}

		if len(calls) == 0 {
			observability.EngineTurnsTotal.WithLabelValues(name, "completed").Inc()
			s.Emit(ctx, Event{Type: EventTurnComplete, FinishReason: finish})
			return
		}

		observability.EngineTurnsTotal.WithLabelValues(name, "tool_calls").Inc()
		debug.Log("engine", "engine suspended on tool calls",
			"engine", name, "step", step, "calls", len(calls))

		if !s.Emit(ctx, Event{Type: EventToolUse, ToolCalls: calls}) {
			return
		}
		results, err := s.Await(ctx)
		if err != nil {
			return
		}
		st.Resume(calls, results)
	}

	observability.EngineTurnsTotal.WithLabelValues(name, "failed").Inc()
	s.Emit(ctx, Event{Type: EventError, Err: fmt.Errorf("%s: %w", name, ErrMaxSteps)})
}

// AppendToolRound appends the assistant message that requested calls and
// one tool message per call to history. Results are matched to calls by id;
// a call without a result gets an empty output.
func AppendToolRound(history []conversation.Message, text string, calls []conversation.ToolCall, results []conversation.ToolResult) []conversation.Message {
	byID := make(map[string]string, len(results))
	for _, r := range results {
		byID[r.CallID] = r.Output
	}

	history = append(history, conversation.Assistant(text, calls...))
	for _, c := range calls {
		history = append(history, conversation.ToolResponse(c.ID, byID[c.ID]))
	}
	return history
}
