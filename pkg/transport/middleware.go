package transport

import (
	"context"
	"sync"
)

// Middleware wraps a CompletionCreator to add cross-cutting behavior.
// Middleware is applied in order: the first middleware in the chain is
// the outermost wrapper (executes first on the way in, last on the way out).
type Middleware func(CompletionCreator) CompletionCreator

// Chain composes multiple middleware into a single middleware.
// Middleware are applied in order: Chain(a, b, c) produces a(b(c(handler))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next CompletionCreator) CompletionCreator {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

type sessionKeyType struct{}

var sessionKey = sessionKeyType{}

// sessionHolder is a mutable slot so inner handlers can report the session
// they used back to outer middleware.
type sessionHolder struct {
	mu sync.Mutex
	id string
}

// ContextWithSessionHolder returns a context carrying an empty session slot.
func ContextWithSessionHolder(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey, &sessionHolder{})
}

// SetSessionID records the engine session serving the current request. It
// is a no-op when the context carries no holder.
func SetSessionID(ctx context.Context, id string) {
	if h, ok := ctx.Value(sessionKey).(*sessionHolder); ok {
		h.mu.Lock()
		h.id = id
		h.mu.Unlock()
	}
}

// SessionIDFromContext returns the session recorded with SetSessionID.
func SessionIDFromContext(ctx context.Context) string {
	if h, ok := ctx.Value(sessionKey).(*sessionHolder); ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.id
	}
	return ""
}
