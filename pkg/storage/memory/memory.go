// Package memory provides the in-memory storage.ReplayStore, a bounded LRU
// whose entries expire after a TTL. Entries are lost when the process
// restarts.
package memory

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/storage"
)

const (
	defaultMaxSize = 1024
	defaultTTL     = 10 * time.Minute
)

// Store is an in-memory ReplayStore.
type Store struct {
	cache *lru.Cache[conversation.Key, *storage.Replay]
	ttl   time.Duration
	now   func() time.Time
}

// Ensure Store implements storage.ReplayStore at compile time.
var _ storage.ReplayStore = (*Store)(nil)

// New creates a store holding at most maxSize entries for ttl each.
// Non-positive values fall back to the defaults.
func New(maxSize int, ttl time.Duration) *Store {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	cache, err := lru.NewWithEvict[conversation.Key, *storage.Replay](maxSize,
		func(key conversation.Key, r *storage.Replay) {
			debug.Log("replay", "replay entry evicted", "session", debug.Short(r.SessionID))
		})
	if err != nil {
		// Only non-positive sizes fail, which are guarded above.
		panic(err)
	}
	return &Store{cache: cache, ttl: ttl, now: time.Now}
}

// SaveReplay stores r under key.
func (s *Store) SaveReplay(_ context.Context, key conversation.Key, r *storage.Replay) error {
	if r.StoredAt.IsZero() {
		r.StoredAt = s.now()
	}
	s.cache.Add(key, r)
	return nil
}

// GetReplay returns the live entry for key.
func (s *Store) GetReplay(_ context.Context, key conversation.Key) (*storage.Replay, error) {
	r, ok := s.cache.Get(key)
	if !ok {
		return nil, storage.ErrNotFound
	}
	if s.expired(r) {
		// Expired: evict so the LRU bookkeeping stays clean.
		s.cache.Remove(key)
		return nil, storage.ErrNotFound
	}
	return r, nil
}

// DeleteSession removes all entries produced by sessionID.
func (s *Store) DeleteSession(_ context.Context, sessionID string) int {
	n := 0
	for _, key := range s.cache.Keys() {
		if r, ok := s.cache.Peek(key); ok && r.SessionID == sessionID {
			s.cache.Remove(key)
			n++
		}
	}
	return n
}

// Sweep drops expired entries.
func (s *Store) Sweep() int {
	n := 0
	for _, key := range s.cache.Keys() {
		if r, ok := s.cache.Peek(key); ok && s.expired(r) {
			s.cache.Remove(key)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries, expired ones included.
func (s *Store) Len() int {
	return s.cache.Len()
}

func (s *Store) expired(r *storage.Replay) bool {
	return s.now().Sub(r.StoredAt) >= s.ttl
}
