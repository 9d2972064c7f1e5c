// Package snapshot implements the message snapshot store: a prefix trie that
// maps an exact sequence of previously observed messages to the engine
// session that produced it.
//
// Each edge is the conversation.MessageKey of one message. A node may be
// marked terminal, carrying the session id that was live when the path was
// recorded. Lookups walk the incoming message list edge by edge and report
// the deepest non-expired terminal reached; they never backtrack.
//
// Every path starts with a scope edge (see conversation.ScopeKey) so that
// conversations against different models or tool sets never share
// terminals. Callers that do not care pass Unscoped.
//
// Nodes are never exposed. All methods are safe for concurrent use.
package snapshot

import (
	"sync"
	"time"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/observability"
)

// DefaultTTL is how long a terminal marking stays valid.
const DefaultTTL = time.Hour

// Unscoped is the zero scope key.
var Unscoped conversation.Key

// Match is the result of a successful lookup.
type Match struct {
	SessionID     string
	MatchedLength int
	CreatedAt     time.Time
}

type terminal struct {
	sessionID  string
	createdAt  time.Time
	pathLength int
}

type node struct {
	parent   *node
	key      conversation.Key
	children map[conversation.Key]*node
	term     *terminal
}

// Store is the snapshot trie.
type Store struct {
	mu        sync.Mutex
	root      *node
	bySession map[string]map[*node]struct{}
	terminals int

	ttl time.Duration
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the terminal TTL. A non-positive TTL disables expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		root:      &node{children: make(map[conversation.Key]*node)},
		bySession: make(map[string]map[*node]struct{}),
		ttl:       DefaultTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records messages as a path under scope and marks its final node
// terminal for sessionID, overwriting any previous marking. Empty message
// lists and empty session ids are ignored.
func (s *Store) Create(scope conversation.Key, messages []conversation.Message, sessionID string) {
	if len(messages) == 0 || sessionID == "" {
		return
	}

	keys := make([]conversation.Key, len(messages))
	for i, m := range messages {
		keys[i] = conversation.MessageKey(m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.root.child(scope, true)
	for _, k := range keys {
		n = n.child(k, true)
	}

	if n.term != nil {
		s.unindex(n.term.sessionID, n)
		s.terminals--
	}
	n.term = &terminal{
		sessionID:  sessionID,
		createdAt:  s.now(),
		pathLength: len(messages),
	}
	s.index(sessionID, n)
	s.terminals++
	observability.SnapshotTerminals.Set(float64(s.terminals))

	debug.Log("snapshots", "snapshot recorded",
		"session", debug.Short(sessionID), "length", len(messages))
}

// FindLongestMatch walks messages under scope and returns the deepest valid
// terminal on the walked path. It reports false for empty input, for a walk
// that reaches no valid terminal, and for any inconsistency.
func (s *Store) FindLongestMatch(scope conversation.Key, messages []conversation.Message) (Match, bool) {
	if len(messages) == 0 {
		return Match{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.root.child(scope, false)
	if n == nil {
		return Match{}, false
	}

	now := s.now()
	var best *terminal
	for depth, m := range messages {
		n = n.child(conversation.MessageKey(m), false)
		if n == nil {
			break
		}
		if n.term != nil && s.valid(n.term, now) && n.term.pathLength == depth+1 {
			best = n.term
		}
	}

	if best == nil {
		return Match{}, false
	}
	return Match{
		SessionID:     best.sessionID,
		MatchedLength: best.pathLength,
		CreatedAt:     best.createdAt,
	}, true
}

// Invalidate clears every terminal that points at sessionID and prunes the
// nodes left without purpose. Shared prefix nodes that still lead to other
// terminals are kept. It returns the number of terminals cleared.
func (s *Store) Invalidate(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.bySession[sessionID]
	for n := range nodes {
		n.term = nil
		s.terminals--
		s.prune(n)
	}
	delete(s.bySession, sessionID)
	observability.SnapshotTerminals.Set(float64(s.terminals))

	if len(nodes) > 0 {
		debug.Log("snapshots", "snapshots invalidated",
			"session", debug.Short(sessionID), "count", len(nodes))
	}
	return len(nodes)
}

// Sweep removes expired terminals and prunes dead leaves. It returns the
// number of terminals removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for sessionID, nodes := range s.bySession {
		for n := range nodes {
			if s.valid(n.term, now) {
				continue
			}
			delete(nodes, n)
			n.term = nil
			s.terminals--
			removed++
			s.prune(n)
		}
		if len(nodes) == 0 {
			delete(s.bySession, sessionID)
		}
	}
	observability.SnapshotTerminals.Set(float64(s.terminals))

	if removed > 0 {
		debug.Log("snapshots", "expired snapshots swept", "count", removed)
	}
	return removed
}

// Len returns the number of terminal markings, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminals
}

// valid reports whether t has not expired. Must be called with s.mu held.
func (s *Store) valid(t *terminal, now time.Time) bool {
	if s.ttl <= 0 {
		return true
	}
	return now.Sub(t.createdAt) < s.ttl
}

func (s *Store) index(sessionID string, n *node) {
	set, ok := s.bySession[sessionID]
	if !ok {
		set = make(map[*node]struct{})
		s.bySession[sessionID] = set
	}
	set[n] = struct{}{}
}

func (s *Store) unindex(sessionID string, n *node) {
	set := s.bySession[sessionID]
	delete(set, n)
	if len(set) == 0 {
		delete(s.bySession, sessionID)
	}
}

// prune detaches n and its ancestors while they are neither terminal nor on
// the way to another node. Must be called with s.mu held.
func (s *Store) prune(n *node) {
	for n != s.root && n.term == nil && len(n.children) == 0 {
		parent := n.parent
		delete(parent.children, n.key)
		n.parent = nil
		n = parent
	}
}

// child returns the child for k, creating it when create is set.
func (n *node) child(k conversation.Key, create bool) *node {
	c, ok := n.children[k]
	if ok || !create {
		return c
	}
	c = &node{
		parent:   n,
		key:      k,
		children: make(map[conversation.Key]*node),
	}
	n.children[k] = c
	return c
}
