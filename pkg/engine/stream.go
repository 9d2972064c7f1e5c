package engine

import (
	"context"
	"sync"

	"github.com/rhuss/faden/pkg/conversation"
)

// eventBuffer absorbs bursts of text deltas while the consumer is busy.
const eventBuffer = 32

// Stream is the plumbing shared by Invocation implementations: an event
// channel written by a single producer goroutine, a one-slot resume channel
// for delivered tool results, and idempotent stop handling.
//
// Backends embed *Stream and only add the goroutine that produces events.
type Stream struct {
	events  chan Event
	results chan []conversation.ToolResult
	done    chan struct{}
	cancel  context.CancelFunc

	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewStream creates a stream. cancel, if non-nil, is called by Stop so the
// producer's context ends with it.
func NewStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		events:  make(chan Event, eventBuffer),
		results: make(chan []conversation.ToolResult, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
}

// Events implements Invocation.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Deliver implements Invocation.
func (s *Stream) Deliver(ctx context.Context, results []conversation.ToolResult) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.results <- results:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements Invocation.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Stopped is closed once Stop was called.
func (s *Stream) Stopped() <-chan struct{} {
	return s.done
}

// Emit sends ev to the consumer. It reports false when the stream was
// stopped or ctx ended before the event could be handed over.
func (s *Stream) Emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Await blocks the producer until results are delivered.
func (s *Stream) Await(ctx context.Context) ([]conversation.ToolResult, error) {
	select {
	case r := <-s.results:
		return r, nil
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the event channel. Only the producer calls it, once it has
// nothing left to emit.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.events) })
}
