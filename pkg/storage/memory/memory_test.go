package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/storage"
)

func makeReplay(sessionID, text string) *storage.Replay {
	return &storage.Replay{
		SessionID: sessionID,
		Response: &api.ChatCompletionResponse{
			ID:     api.NewCompletionID(),
			Object: api.ObjectChatCompletion,
			Model:  "test-model",
			Choices: []api.ChatChoice{{
				Message:      api.ChatMessage{Role: "assistant", Content: text},
				FinishReason: api.FinishReasonStop,
			}},
		},
	}
}

func key(s string) conversation.Key {
	return conversation.SequenceKey(conversation.Key{}, []conversation.Message{conversation.User(s)})
}

func TestSaveAndGet(t *testing.T) {
	s := New(0, 0)
	ctx := context.Background()

	if err := s.SaveReplay(ctx, key("a"), makeReplay("s1", "hello")); err != nil {
		t.Fatalf("SaveReplay failed: %v", err)
	}

	got, err := s.GetReplay(ctx, key("a"))
	if err != nil {
		t.Fatalf("GetReplay failed: %v", err)
	}
	if got.SessionID != "s1" || got.Response.Choices[0].Message.Content != "hello" {
		t.Errorf("got %+v", got)
	}
	if got.StoredAt.IsZero() {
		t.Error("StoredAt not set")
	}
}

func TestGetNotFound(t *testing.T) {
	s := New(0, 0)
	if _, err := s.GetReplay(context.Background(), key("missing")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(0, time.Minute)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.SaveReplay(ctx, key("old"), makeReplay("s1", "old"))
	now = now.Add(40 * time.Second)
	s.SaveReplay(ctx, key("new"), makeReplay("s2", "new"))
	now = now.Add(30 * time.Second)

	if _, err := s.GetReplay(ctx, key("old")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired entry returned, err = %v", err)
	}
	if _, err := s.GetReplay(ctx, key("new")); err != nil {
		t.Errorf("live entry missing: %v", err)
	}

	now = now.Add(time.Minute)
	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(2, 0)
	ctx := context.Background()

	s.SaveReplay(ctx, key("1"), makeReplay("s", "1"))
	s.SaveReplay(ctx, key("2"), makeReplay("s", "2"))
	s.GetReplay(ctx, key("1")) // touch 1 so 2 is least recently used
	s.SaveReplay(ctx, key("3"), makeReplay("s", "3"))

	if _, err := s.GetReplay(ctx, key("2")); !errors.Is(err, storage.ErrNotFound) {
		t.Error("least recently used entry not evicted")
	}
	if _, err := s.GetReplay(ctx, key("1")); err != nil {
		t.Errorf("recently used entry evicted: %v", err)
	}
}

func TestEvictionLoggedUnderReplayCategory(t *testing.T) {
	orig := slog.Default()
	t.Setenv("FADEN_DEBUG", "")
	t.Setenv("FADEN_LOG_LEVEL", "")
	t.Cleanup(func() {
		debug.Setup(io.Discard, "", "info", "text")
		slog.SetDefault(orig)
	})

	var buf bytes.Buffer
	debug.Setup(&buf, "replay", "debug", "text")

	s := New(1, 0)
	ctx := context.Background()
	s.SaveReplay(ctx, key("1"), makeReplay("sess-evicted", "1"))
	s.SaveReplay(ctx, key("2"), makeReplay("sess-kept", "2"))

	out := buf.String()
	for _, want := range []string{"replay entry evicted", "debug=replay", "sess-evi"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q in:\n%s", want, out)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	s := New(0, 0)
	ctx := context.Background()

	s.SaveReplay(ctx, key("a"), makeReplay("s1", "a"))
	s.SaveReplay(ctx, key("b"), makeReplay("s1", "b"))
	s.SaveReplay(ctx, key("c"), makeReplay("s2", "c"))

	if n := s.DeleteSession(ctx, "s1"); n != 2 {
		t.Errorf("DeleteSession = %d, want 2", n)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if _, err := s.GetReplay(ctx, key("c")); err != nil {
		t.Errorf("other session's entry removed: %v", err)
	}
}
