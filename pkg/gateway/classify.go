package gateway

import "github.com/rhuss/faden/pkg/conversation"

// SuffixKind classifies the messages a request carries beyond its longest
// snapshot match.
type SuffixKind int

const (
	// SuffixEmpty means the request repeats a known prefix exactly.
	SuffixEmpty SuffixKind = iota
	// SuffixToolResults means the client only added tool results
	// (assistant echoes are ignored).
	SuffixToolResults
	// SuffixNewInput means the client added a user message.
	SuffixNewInput
	// SuffixOther is anything else, such as edited system messages.
	SuffixOther
)

func (k SuffixKind) String() string {
	switch k {
	case SuffixEmpty:
		return "empty"
	case SuffixToolResults:
		return "tool_results"
	case SuffixNewInput:
		return "new_input"
	case SuffixOther:
		return "other"
	default:
		return "unknown"
	}
}

// Classify returns the kind of suffix and, for SuffixToolResults, the
// results it carries in message order.
func Classify(suffix []conversation.Message) (SuffixKind, []conversation.ToolResult) {
	if len(suffix) == 0 {
		return SuffixEmpty, nil
	}

	var results []conversation.ToolResult
	other := false
	for _, m := range suffix {
		switch m.Role {
		case conversation.RoleUser:
			return SuffixNewInput, nil
		case conversation.RoleTool:
			results = append(results, conversation.ToolResult{CallID: m.ToolCallID, Output: m.ContentText()})
		case conversation.RoleAssistant:
		default:
			other = true
		}
	}

	if other || len(results) == 0 {
		return SuffixOther, nil
	}
	return SuffixToolResults, results
}
