package transport

import (
	"context"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/session"
)

// CompletionCreator handles one chat completion request. The implementation
// writes either a series of chunks or a single complete response to w.
type CompletionCreator interface {
	CreateCompletion(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error
}

// CompletionCreatorFunc is an adapter that allows using an ordinary function
// as a CompletionCreator.
type CompletionCreatorFunc func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error

// CreateCompletion calls f(ctx, req, w).
func (f CompletionCreatorFunc) CreateCompletion(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
	return f(ctx, req, w)
}

// SessionAdmin exposes the live engine sessions for inspection and manual
// termination.
type SessionAdmin interface {
	// ListSessions returns a snapshot of all live sessions.
	ListSessions(ctx context.Context) []session.Info

	// AbortSession terminates the session with the given id. Returns an
	// error wrapping session.ErrNotFound if no live session has that id.
	AbortSession(ctx context.Context, id string) error
}

// CompletionWriter abstracts streaming and non-streaming output for the
// handler.
//
// WriteChunk and WriteCompletion are mutually exclusive on a single writer
// instance. A chunk whose choice carries a finish reason is terminal; any
// write after it returns an error.
type CompletionWriter interface {
	// WriteChunk sends one streaming chunk.
	WriteChunk(ctx context.Context, chunk *api.ChatCompletionChunk) error

	// WriteCompletion sends a complete non-streaming response.
	WriteCompletion(ctx context.Context, resp *api.ChatCompletionResponse) error

	// Flush ensures buffered data is sent to the client. Returns an error
	// if the client has disconnected.
	Flush() error
}
