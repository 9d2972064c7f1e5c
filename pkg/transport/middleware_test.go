package transport

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rhuss/faden/pkg/api"
)

// recordingWriter is a minimal CompletionWriter for testing middleware.
type recordingWriter struct {
	chunks   []*api.ChatCompletionChunk
	response *api.ChatCompletionResponse
}

func (w *recordingWriter) WriteChunk(_ context.Context, chunk *api.ChatCompletionChunk) error {
	w.chunks = append(w.chunks, chunk)
	return nil
}

func (w *recordingWriter) WriteCompletion(_ context.Context, resp *api.ChatCompletionResponse) error {
	w.response = resp
	return nil
}

func (w *recordingWriter) Flush() error { return nil }

func call(mw Middleware, ctx context.Context, fn CompletionCreatorFunc) error {
	return mw(fn).CreateCompletion(ctx, &api.ChatCompletionRequest{Model: "test-model"}, &recordingWriter{})
}

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next CompletionCreator) CompletionCreator {
			return CompletionCreatorFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
				order = append(order, name+":before")
				err := next.CreateCompletion(ctx, req, w)
				order = append(order, name+":after")
				return err
			})
		}
	}

	call(Chain(mw("first"), mw("second")), context.Background(),
		func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
			order = append(order, "handler")
			return nil
		})

	want := "first:before second:before handler second:after first:after"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("order = %q, want %q", got, want)
	}
}

func TestRecoveryHidesPanicValue(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx := ContextWithSessionHolder(ContextWithRequestID(context.Background(), "req-panic"))
	err := call(Recovery(), ctx, func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
		SetSessionID(ctx, "sess-9")
		panic("secret detail")
	})

	apiErr, ok := err.(*api.APIError)
	if !ok {
		t.Fatalf("expected *api.APIError, got %T: %v", err, err)
	}
	if apiErr.Type != api.ErrorTypeServerError {
		t.Errorf("type = %q, want server_error", apiErr.Type)
	}
	if strings.Contains(apiErr.Message, "secret detail") {
		t.Errorf("panic value leaked to client: %q", apiErr.Message)
	}

	out := buf.String()
	for _, want := range []string{"handler panic", "secret detail", "request_id=req-panic", "session_id=sess-9", "stack="} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q in:\n%s", want, out)
		}
	}
}

func TestRecoveryPassesThroughErrors(t *testing.T) {
	err := call(Recovery(), context.Background(), func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
		return api.NewModelError("upstream down")
	})
	if apiErr, ok := err.(*api.APIError); !ok || apiErr.Type != api.ErrorTypeModelError {
		t.Errorf("err = %v, want the handler's model error", err)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"none", "", false},
		{"client id", "client-abc-123", true},
		{"with spaces", "has spaces", false},
		{"too long", strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.incoming != "" {
				ctx = ContextWithRequestID(ctx, tt.incoming)
			}

			var got string
			call(RequestID(), ctx, func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
				got = RequestIDFromContext(ctx)
				return nil
			})

			if tt.keep {
				if got != tt.incoming {
					t.Errorf("request id = %q, want %q", got, tt.incoming)
				}
				return
			}
			if len(got) != 36 {
				t.Errorf("request id = %q, want a fresh UUID", got)
			}
		})
	}
}

func TestSessionHolder(t *testing.T) {
	// Without a holder the setter is a no-op.
	SetSessionID(context.Background(), "ignored")
	if got := SessionIDFromContext(context.Background()); got != "" {
		t.Errorf("SessionIDFromContext without holder = %q", got)
	}

	ctx := ContextWithSessionHolder(context.Background())
	SetSessionID(ctx, "sess-1")
	SetSessionID(ctx, "sess-2")
	if got := SessionIDFromContext(ctx); got != "sess-2" {
		t.Errorf("SessionIDFromContext = %q, want sess-2", got)
	}
}

func TestLoggingReportsSession(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := ContextWithRequestID(context.Background(), "req-log-test")
	err := Logging(logger)(CompletionCreatorFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
		SetSessionID(ctx, "sess-42")
		return nil
	})).CreateCompletion(ctx, &api.ChatCompletionRequest{
		Model:    "test-model",
		Stream:   true,
		Messages: []api.ChatMessage{{Role: "user", Content: "hi"}},
	}, &recordingWriter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"request completed", "request_id=req-log-test", "model=test-model", "stream=true", "messages=1", "session_id=sess-42"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q in:\n%s", want, out)
		}
	}
}

func TestLoggingReportsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	call(Logging(logger), context.Background(), func(ctx context.Context, req *api.ChatCompletionRequest, w CompletionWriter) error {
		return api.NewSessionEndedError("sess-7", "timeout")
	})

	out := buf.String()
	for _, want := range []string{"level=ERROR", "request failed", "session_ended"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q in:\n%s", want, out)
		}
	}
}
