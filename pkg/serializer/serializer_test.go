package serializer

import (
	"errors"
	"testing"

	"github.com/rhuss/faden/pkg/conversation"
)

func calls(ids ...string) []conversation.ToolCall {
	out := make([]conversation.ToolCall, len(ids))
	for i, id := range ids {
		out[i] = conversation.ToolCall{ID: id, Name: "tool_" + id, Arguments: "{}"}
	}
	return out
}

func result(id string) conversation.ToolResult {
	return conversation.ToolResult{CallID: id, Output: "result of " + id}
}

func TestResultsReassembledInCallOrder(t *testing.T) {
	s := New()
	first := s.Begin("s1", calls("a", "b", "c"))
	if first.ID != "a" {
		t.Fatalf("first = %q, want a", first.ID)
	}

	// Arrival order c, a, b.
	step, err := s.OnClientResult("s1", result("c"))
	if err != nil || step.Done || step.Next == nil || step.Next.ID != "b" {
		t.Fatalf("after c: %+v, %v", step, err)
	}
	step, err = s.OnClientResult("s1", result("a"))
	if err != nil || step.Done || step.Next == nil || step.Next.ID != "b" {
		t.Fatalf("after a: %+v, %v", step, err)
	}
	step, err = s.OnClientResult("s1", result("b"))
	if err != nil || !step.Done {
		t.Fatalf("after b: %+v, %v", step, err)
	}

	want := []string{"result of a", "result of b", "result of c"}
	for i, r := range step.Results {
		if r.Output != want[i] {
			t.Errorf("Results[%d] = %q, want %q", i, r.Output, want[i])
		}
	}
	if s.Active("s1") {
		t.Error("batch not released after completion")
	}
}

func TestSequentialHappyPath(t *testing.T) {
	s := New()
	s.Begin("s1", calls("a", "b", "c"))

	for _, tt := range []struct{ answer, next string }{{"a", "b"}, {"b", "c"}} {
		step, err := s.OnClientResult("s1", result(tt.answer))
		if err != nil {
			t.Fatalf("OnClientResult(%s): %v", tt.answer, err)
		}
		if step.Next == nil || step.Next.ID != tt.next {
			t.Fatalf("after %s: next = %+v, want %s", tt.answer, step.Next, tt.next)
		}
		if cur, ok := s.Current("s1"); !ok || cur.ID != tt.next {
			t.Errorf("Current = %+v, %v", cur, ok)
		}
	}

	step, _ := s.OnClientResult("s1", result("c"))
	if !step.Done || len(step.Results) != 3 {
		t.Fatalf("final step = %+v", step)
	}
}

func TestSingleCallSkipsBuffering(t *testing.T) {
	s := New()
	first := s.Begin("s1", calls("only"))
	if first.ID != "only" {
		t.Errorf("first = %q", first.ID)
	}
	if s.Active("s1") || s.Len() != 0 {
		t.Error("single call should not create a batch")
	}
	if _, err := s.OnClientResult("s1", result("only")); !errors.Is(err, ErrNoBatch) {
		t.Errorf("err = %v, want ErrNoBatch", err)
	}
}

func TestUnknownCallRejected(t *testing.T) {
	s := New()
	s.Begin("s1", calls("a", "b"))

	if _, err := s.OnClientResult("s1", result("zzz")); !errors.Is(err, ErrUnknownCall) {
		t.Errorf("err = %v, want ErrUnknownCall", err)
	}
	if !s.Active("s1") {
		t.Error("batch dropped after unknown result")
	}
}

func TestRelease(t *testing.T) {
	s := New()
	s.Begin("s1", calls("a", "b"))
	s.Begin("s2", calls("x", "y"))

	s.Release("s1")
	if s.Active("s1") {
		t.Error("s1 still active")
	}
	if !s.Active("s2") || s.Len() != 1 {
		t.Error("s2 affected by releasing s1")
	}
	if _, ok := s.Current("s1"); ok {
		t.Error("Current on released batch")
	}
}

func TestDuplicateResultKeepsLatest(t *testing.T) {
	s := New()
	s.Begin("s1", calls("a", "b"))

	s.OnClientResult("s1", conversation.ToolResult{CallID: "a", Output: "first"})
	step, _ := s.OnClientResult("s1", conversation.ToolResult{CallID: "a", Output: "second"})
	if step.Done || step.Next == nil || step.Next.ID != "b" {
		t.Fatalf("step = %+v", step)
	}
	step, _ = s.OnClientResult("s1", result("b"))
	if !step.Done || step.Results[0].Output != "second" {
		t.Errorf("step = %+v", step)
	}
}
