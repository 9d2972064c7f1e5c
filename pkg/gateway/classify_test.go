package gateway

import (
	"testing"

	"github.com/rhuss/faden/pkg/conversation"
)

func TestClassify(t *testing.T) {
	call := conversation.ToolCall{ID: "c1", Name: "f"}
	tests := []struct {
		name        string
		suffix      []conversation.Message
		want        SuffixKind
		wantResults int
	}{
		{"empty", nil, SuffixEmpty, 0},
		{"tool results", []conversation.Message{conversation.ToolResponse("c1", "1"), conversation.ToolResponse("c2", "2")}, SuffixToolResults, 2},
		{"assistant echo ignored", []conversation.Message{conversation.Assistant("", call), conversation.ToolResponse("c1", "1")}, SuffixToolResults, 1},
		{"user message", []conversation.Message{conversation.ToolResponse("c1", "1"), conversation.User("more")}, SuffixNewInput, 0},
		{"system only", []conversation.Message{conversation.System("new rules")}, SuffixOther, 0},
		{"assistant only", []conversation.Message{conversation.Assistant("hi")}, SuffixOther, 0},
		{"system and tool", []conversation.Message{conversation.System("x"), conversation.ToolResponse("c1", "1")}, SuffixOther, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, results := Classify(tt.suffix)
			if got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
			if len(results) != tt.wantResults {
				t.Errorf("len(results) = %d, want %d", len(results), tt.wantResults)
			}
		})
	}
}

func TestClassifyKeepsResultOrderAndPayload(t *testing.T) {
	_, results := Classify([]conversation.Message{
		conversation.ToolResponse("b", `{"x":1}`),
		conversation.ToolResponse("a", "plain"),
	})
	if results[0].CallID != "b" || results[0].Output != `{"x":1}` || results[1].CallID != "a" {
		t.Errorf("results = %+v", results)
	}
}
