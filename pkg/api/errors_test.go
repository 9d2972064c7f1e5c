package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAPIErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			"with param",
			NewInvalidRequestError("messages[2].tool_call_id", "tool messages require tool_call_id"),
			"invalid_request: tool messages require tool_call_id (param: messages[2].tool_call_id)",
		},
		{
			"with code",
			NewModelError("upstream overloaded"),
			"model_error/engine_failed: upstream overloaded",
		},
		{
			"plain",
			NewServerError("internal failure"),
			"server_error: internal failure",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionEndedError(t *testing.T) {
	err := NewSessionEndedError("sess-1", "timeout")
	if err.Type != ErrorTypeServerError || err.Code != CodeSessionEnded {
		t.Errorf("got %s/%s", err.Type, err.Code)
	}
	if !strings.Contains(err.Message, "sess-1") || !strings.Contains(err.Message, "timeout") {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestWithCode(t *testing.T) {
	err := NewNotFoundError("session x not found").WithCode(CodeSessionNotFound)
	if err.Code != CodeSessionNotFound {
		t.Errorf("Code = %q", err.Code)
	}
}

func TestAsAPIError(t *testing.T) {
	inner := NewModelError("boom")
	wrapped := fmt.Errorf("turn: %w", inner)
	if got := AsAPIError(wrapped); got != inner {
		t.Errorf("AsAPIError(wrapped) = %v, want the wrapped APIError", got)
	}

	got := AsAPIError(errors.New("plain"))
	if got.Type != ErrorTypeServerError || got.Message != "plain" {
		t.Errorf("AsAPIError(plain) = %+v", got)
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: NewModelError("overloaded")})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"error":{"type":"model_error","code":"engine_failed","message":"overloaded"}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestAPIErrorOmitEmpty(t *testing.T) {
	data, err := json.Marshal(NewServerError("fail"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, field := range []string{`"code"`, `"param"`} {
		if strings.Contains(string(data), field) {
			t.Errorf("%s present in %s", field, data)
		}
	}
}
