package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/faden/pkg/api"
)

// Logging returns middleware that emits one structured log entry per
// completion request with the request ID, model, stream flag, message count,
// serving session and duration.
//
// HTTP status codes are not visible at this level; the adapter's metrics
// middleware records those.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next CompletionCreator) CompletionCreator {
		return CompletionCreatorFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
			start := time.Now()
			ctx = ContextWithSessionHolder(ctx)

			err := next.CreateCompletion(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("model", req.Model),
				slog.Bool("stream", req.Stream),
				slog.Int("messages", len(req.Messages)),
				slog.String("session_id", SessionIDFromContext(ctx)),
				slog.Duration("duration", time.Since(start)),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "request failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
			}

			return err
		})
	}
}
