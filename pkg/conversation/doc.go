// Package conversation defines the in-memory message shape the gateway core
// works on, independent of any wire format.
//
// A Message is one entry of the client-supplied history. Key computes a
// deterministic digest over the canonical form of a message so that two
// messages that differ only in incidental serialization (object key order
// inside tool call arguments, whitespace) map to the same trie edge in the
// snapshot store.
package conversation
