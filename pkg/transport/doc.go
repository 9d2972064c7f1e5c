// Package transport defines the handler interfaces and middleware chain that
// sit between the HTTP adapter and the gateway.
//
// The HTTP adapter in transport/http decodes Chat Completions requests into
// the wire types from pkg/api and hands them to a CompletionCreator together
// with a CompletionWriter. The writer hides whether the client asked for a
// streamed (SSE) or a single JSON response, so the gateway emits chunks and
// final responses the same way in both cases.
//
// # Middleware
//
// The middleware chain wraps a CompletionCreator with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID) and structured logging via log/slog. The logging middleware
// installs a session holder in the context so the handler can report which
// engine session served the request.
package transport
