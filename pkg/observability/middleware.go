package observability

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type requestInfoKey struct{}

// requestInfo is filled in by the handler while it serves the request, so
// the middleware can label metrics with what only the body reveals.
type requestInfo struct {
	mu        sync.Mutex
	model     string
	streaming bool
}

func infoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// SetModel records the model name for the metrics of the current request.
// It is a no-op when the request was not wrapped by MetricsMiddleware.
func SetModel(ctx context.Context, model string) {
	if info := infoFrom(ctx); info != nil {
		info.mu.Lock()
		info.model = model
		info.mu.Unlock()
	}
}

// MarkStreaming counts the current request as an open SSE stream until it
// ends. Repeated calls have no further effect.
func MarkStreaming(ctx context.Context) {
	info := infoFrom(ctx)
	if info == nil {
		return
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	if !info.streaming {
		info.streaming = true
		StreamingConnections.Inc()
	}
}

// MetricsMiddleware wraps an HTTP handler to record request metrics:
// faden_requests_total and faden_request_duration_seconds labelled with the
// method, status class and model, and faden_streaming_connections_active
// for responses the handler marked with MarkStreaming.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		info := &requestInfo{}
		r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info))

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()

		info.mu.Lock()
		model, streaming := info.model, info.streaming
		info.mu.Unlock()
		if streaming {
			StreamingConnections.Dec()
		}
		if model == "" {
			model = "unknown"
		}

		status := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(r.Method, status, model).Inc()
		RequestDuration.WithLabelValues(r.Method, model).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// WriteHeader captures the status code and delegates to the underlying writer.
func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying writer and marks the status as written.
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush delegates to the underlying writer if it implements http.Flusher.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, enabling http.ResponseController
// and similar utilities to access the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
