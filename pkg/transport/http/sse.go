package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/observability"
	"github.com/rhuss/faden/pkg/transport"
)

// writerState tracks the state of a completion writer.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteChunk has been called at least once
	writerCompleted                    // Finish chunk sent or WriteCompletion called
)

// completionWriter implements transport.CompletionWriter for HTTP. Chunks
// go out as server-sent events, a complete response as one JSON body.
type completionWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

var _ transport.CompletionWriter = (*completionWriter)(nil)

func newCompletionWriter(w http.ResponseWriter) *completionWriter {
	return &completionWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// WriteChunk sends one chunk as an SSE data line:
//
//	data: {json}\n
//	\n
//
// A chunk carrying a finish reason ends the stream and is followed by:
//
//	data: [DONE]\n
//	\n
func (s *completionWriter) WriteChunk(ctx context.Context, chunk *api.ChatCompletionChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write chunk: writer is completed")
	}

	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
		observability.MarkStreaming(ctx)
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk: %w", err)
	}
	if err := s.writeData(data); err != nil {
		return err
	}

	if isFinal(chunk) {
		if err := s.writeData([]byte("[DONE]")); err != nil {
			return err
		}
		s.state = writerCompleted
	}
	return nil
}

// WriteCompletion sends a complete non-streaming JSON response.
// This is mutually exclusive with WriteChunk.
func (s *completionWriter) WriteCompletion(ctx context.Context, resp *api.ChatCompletionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerStreaming {
		return errors.New("cannot write completion: streaming has already started")
	}
	if s.state == writerCompleted {
		return errors.New("cannot write completion: writer is completed")
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.state = writerCompleted

	if err := json.NewEncoder(s.w).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// Flush ensures buffered data is sent to the client.
func (s *completionWriter) Flush() error {
	return s.rc.Flush()
}

// writeError ends an already started stream with an error event, the way
// OpenAI-compatible servers report mid-stream failures.
func (s *completionWriter) writeError(apiErr *api.APIError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != writerStreaming {
		return errors.New("cannot write error event: stream not open")
	}
	data, err := json.Marshal(api.ErrorResponse{Error: apiErr})
	if err != nil {
		return fmt.Errorf("failed to marshal error: %w", err)
	}
	s.state = writerCompleted
	if err := s.writeData(data); err != nil {
		return err
	}
	return s.writeData([]byte("[DONE]"))
}

// hasStartedStreaming returns true if at least one chunk has been written.
func (s *completionWriter) hasStartedStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerStreaming || (s.state == writerCompleted && s.w.Header().Get("Content-Type") == "text/event-stream")
}

// writeData writes one SSE data line and flushes it. Callers hold s.mu.
func (s *completionWriter) writeData(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func isFinal(chunk *api.ChatCompletionChunk) bool {
	for _, c := range chunk.Choices {
		if c.FinishReason != nil {
			return true
		}
	}
	return false
}
