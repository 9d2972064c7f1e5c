package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/session"
	"github.com/rhuss/faden/pkg/transport"
)

// Adapter serves the Chat Completions API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	creator transport.CompletionCreator
	admin   transport.SessionAdmin // nil disables the session endpoints
	mux     *http.ServeMux
	config  Config
	started int64
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int // seconds

	// Models are listed by GET /v1/models.
	Models []string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     10 << 20, // 10 MB
		ShutdownTimeout: 30,
	}
}

// NewAdapter creates an HTTP adapter with the given CompletionCreator.
// The SessionAdmin is optional; when nil, the session endpoints return
// 501. Middleware is applied to the CompletionCreator in the given order.
func NewAdapter(creator transport.CompletionCreator, admin transport.SessionAdmin, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		creator = transport.Chain(middlewares...)(creator)
	}

	a := &Adapter{
		creator: creator,
		admin:   admin,
		mux:     http.NewServeMux(),
		config:  cfg,
		started: time.Now().Unix(),
	}

	a.mux.HandleFunc("POST /v1/chat/completions", a.handleCreateCompletion)
	a.mux.HandleFunc("GET /v1/models", a.handleListModels)
	a.mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	a.mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleAbortSession)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware propagates the X-Request-ID header. A usable client
// supplied id, or a fresh one, is put into the context and echoed in the
// response headers.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !transport.ValidRequestID(id) {
			id = uuid.NewString()
		}
		r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	w.ensureRequestIDHeader()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// handleCreateCompletion handles POST /v1/chat/completions.
func (a *Adapter) handleCreateCompletion(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteAPIError(w, api.NewInvalidRequestError("content_type", "Content-Type must be application/json").
				WithCode(api.CodeUnsupportedMediaType))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteAPIError(w, api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)).
				WithCode(api.CodeBodyTooLarge))
			return
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()).
			WithCode(api.CodeInvalidJSON))
		return
	}

	ctx := r.Context()
	cw := newCompletionWriter(w)
	if err := a.creator.CreateCompletion(ctx, &req, cw); err != nil {
		if ctx.Err() != nil {
			// Client went away; there is nobody to answer.
			slog.Debug("client disconnected", "error", err)
			return
		}
		a.writeHandlerError(w, cw, err)
	}
}

// handleListModels handles GET /v1/models.
func (a *Adapter) handleListModels(w http.ResponseWriter, r *http.Request) {
	list := api.ModelList{Object: api.ObjectList, Data: []api.Model{}}
	for _, m := range a.config.Models {
		list.Data = append(list.Data, api.Model{
			ID:      m,
			Object:  api.ObjectModel,
			Created: a.started,
			OwnedBy: "faden",
		})
	}
	writeJSON(w, list)
}

// sessionList is the response of GET /v1/sessions.
type sessionList struct {
	Object string         `json:"object"`
	Data   []session.Info `json:"data"`
}

// handleListSessions handles GET /v1/sessions.
func (a *Adapter) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if a.admin == nil {
		transport.WriteAPIError(w, errNoAdmin())
		return
	}
	infos := a.admin.ListSessions(r.Context())
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, sessionList{Object: api.ObjectList, Data: infos})
}

// handleAbortSession handles DELETE /v1/sessions/{id}.
func (a *Adapter) handleAbortSession(w http.ResponseWriter, r *http.Request) {
	if a.admin == nil {
		transport.WriteAPIError(w, errNoAdmin())
		return
	}

	id := r.PathValue("id")
	if err := a.admin.AbortSession(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("session "+id+" not found").WithCode(api.CodeSessionNotFound))
			return
		}
		transport.WriteAPIError(w, api.AsAPIError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeHandlerError writes an error response from the handler. If streaming
// has already started, it ends the stream with an error event. Otherwise it
// writes a standard JSON error response.
func (a *Adapter) writeHandlerError(w http.ResponseWriter, cw *completionWriter, err error) {
	apiErr := api.AsAPIError(err)
	if cw.hasStartedStreaming() {
		if werr := cw.writeError(apiErr); werr != nil {
			slog.Debug("writing stream error failed", "error", werr)
		}
		return
	}

	transport.WriteAPIError(w, apiErr)
}

func errNoAdmin() *api.APIError {
	return api.NewServerError("session administration is not available").WithCode(api.CodeNotImplemented)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
