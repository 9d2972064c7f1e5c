package storage

import (
	"context"
	"time"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/conversation"
)

// Replay is one cached response.
type Replay struct {
	SessionID string
	Response  *api.ChatCompletionResponse
	StoredAt  time.Time
}

// ReplayStore caches responses keyed by conversation.SequenceKey of the
// request's message list. Implementations must be safe for concurrent use.
type ReplayStore interface {
	// SaveReplay stores r under key, replacing any previous entry.
	SaveReplay(ctx context.Context, key conversation.Key, r *Replay) error

	// GetReplay returns the entry for key, or ErrNotFound.
	GetReplay(ctx context.Context, key conversation.Key) (*Replay, error)

	// DeleteSession removes every entry produced by sessionID and returns
	// how many were removed.
	DeleteSession(ctx context.Context, sessionID string) int

	// Sweep drops expired entries and returns how many were dropped.
	Sweep() int

	// Len returns the number of cached entries.
	Len() int
}
