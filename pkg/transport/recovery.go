package transport

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/faden/pkg/api"
)

// Recovery returns middleware that turns a panic in the handler into a
// server error. The panic value and stack go to the log, not the client.
func Recovery() Middleware {
	return func(next CompletionCreator) CompletionCreator {
		return CompletionCreatorFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("handler panic",
						"request_id", RequestIDFromContext(ctx),
						"session_id", SessionIDFromContext(ctx),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					retErr = api.NewServerError("internal server error")
				}
			}()
			return next.CreateCompletion(ctx, req, w)
		})
	}
}
