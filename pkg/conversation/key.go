package conversation

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Key is the digest of one canonicalized message.
type Key [sha256.Size]byte

// String returns the hex form of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Field tags keep adjacent fields from running into each other in the
// digest input.
const (
	tagRole       = 'r'
	tagContent    = 'c'
	tagNoContent  = 'n'
	tagToolCall   = 't'
	tagToolCallID = 'i'
)

// MessageKey computes the digest of m over role, content, the ordered tool
// calls (id, name, canonical arguments) and the tool call id.
func MessageKey(m Message) Key {
	h := sha256.New()
	writeField(h, tagRole, string(m.Role))
	if m.Content != nil {
		writeField(h, tagContent, *m.Content)
	} else {
		writeField(h, tagNoContent, "")
	}
	for _, tc := range m.ToolCalls {
		writeField(h, tagToolCall, tc.ID)
		writeField(h, tagToolCall, tc.Name)
		writeField(h, tagToolCall, CanonicalArguments(tc.Arguments))
	}
	writeField(h, tagToolCallID, m.ToolCallID)

	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// ScopeKey derives the digest used as the first trie edge for a
// conversation, so conversations against different models or tool sets never
// share snapshot terminals.
func ScopeKey(model string, tools []ToolDefinition) Key {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	sort.Strings(names)

	h := sha256.New()
	writeField(h, 's', model)
	for _, n := range names {
		writeField(h, 'f', n)
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// SequenceKey digests a whole message list under scope. Lists that are
// equal message by message produce the same key.
func SequenceKey(scope Key, messages []Message) Key {
	h := sha256.New()
	h.Write(scope[:])
	for _, m := range messages {
		k := MessageKey(m)
		h.Write(k[:])
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// CanonicalArguments normalizes a tool-call argument string. Valid JSON is
// re-encoded with sorted object keys and no insignificant whitespace.
// Malformed JSON is repaired first; if it still cannot be parsed the
// trimmed input is returned unchanged.
func CanonicalArguments(args string) string {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return ""
	}
	if canon, ok := canonicalJSON(trimmed); ok {
		return canon
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err == nil {
		if canon, ok := canonicalJSON(repaired); ok {
			return canon
		}
	}
	return trimmed
}

func canonicalJSON(s string) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	// Anything after the value, a stray closing bracket included, means the
	// input was not a single JSON value.
	if _, err := dec.Token(); err != io.EOF {
		return "", false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json sorts map keys.
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return strings.TrimSuffix(buf.String(), "\n"), true
}

func writeField(h interface{ Write([]byte) (int, error) }, tag byte, value string) {
	var hdr [9]byte
	hdr[0] = tag
	binary.BigEndian.PutUint64(hdr[1:], uint64(len(value)))
	h.Write(hdr[:])
	h.Write([]byte(value))
}
