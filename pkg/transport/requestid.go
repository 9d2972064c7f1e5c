package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/rhuss/faden/pkg/api"
)

const maxRequestIDLen = 128

// RequestID returns middleware that makes sure every request carries an id.
// A client supplied id (X-Request-ID, placed in the context by the HTTP
// adapter) is kept when it is short printable ASCII; otherwise a UUID is
// minted.
func RequestID() Middleware {
	return func(next CompletionCreator) CompletionCreator {
		return CompletionCreatorFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
			if !ValidRequestID(RequestIDFromContext(ctx)) {
				ctx = ContextWithRequestID(ctx, uuid.NewString())
			}
			return next.CreateCompletion(ctx, req, w)
		})
	}
}

// ValidRequestID reports whether id can be used as a request id.
func ValidRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
