package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/correlator"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/engine"
	"github.com/rhuss/faden/pkg/observability"
)

// DefaultIdleTimeout is how long a session may go without engine or client
// activity before Sweep aborts it.
const DefaultIdleTimeout = 30 * time.Minute

const defaultUpdateBuffer = 64

// ReleaseFunc is called once per session when it reaches a terminal state.
type ReleaseFunc func(sessionID string, state State, reason correlator.Reason)

// Session is one live engine session.
type Session struct {
	ID        string
	Model     string
	CreatedAt time.Time

	mu           sync.Mutex
	state        State
	reason       correlator.Reason
	lastActivity time.Time
	outstanding  []conversation.ToolCall

	inv     engine.Invocation
	ctx     context.Context
	cancel  context.CancelFunc
	updates chan Update
	done    chan struct{}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns why the session was aborted, if it was.
func (s *Session) Reason() correlator.Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Updates returns the session's ordered update stream.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outstanding returns the tool calls the engine is currently suspended on.
func (s *Session) Outstanding() []conversation.ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.ToolCall(nil), s.outstanding...)
}

func (s *Session) publish(u Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Manager is the session table.
type Manager struct {
	engine     engine.Engine
	correlator *correlator.Correlator

	idleTimeout  time.Duration
	updateBuffer int
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	release  []ReleaseFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout sets the idle threshold used by Sweep.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager starting sessions on eng.
func NewManager(eng engine.Engine, corr *correlator.Correlator, opts ...Option) *Manager {
	m := &Manager{
		engine:       eng,
		correlator:   corr,
		idleTimeout:  DefaultIdleTimeout,
		updateBuffer: defaultUpdateBuffer,
		now:          time.Now,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnRelease registers fn to run whenever a session ends.
func (m *Manager) OnRelease(fn ReleaseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release = append(m.release, fn)
}

// Create starts an engine invocation for req.SessionID and begins consuming
// its events. The session is Active on return.
func (m *Manager) Create(ctx context.Context, req engine.StartRequest) (*Session, error) {
	m.mu.Lock()
	_, exists := m.sessions[req.SessionID]
	m.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, req.SessionID)
	}

	inv, err := m.engine.Start(ctx, req)
	if err != nil {
		return nil, &EngineError{SessionID: req.SessionID, Err: err}
	}

	now := m.now()
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           req.SessionID,
		Model:        req.Model,
		CreatedAt:    now,
		state:        StateActive,
		lastActivity: now,
		inv:          inv,
		ctx:          sctx,
		cancel:       cancel,
		updates:      make(chan Update, m.updateBuffer),
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.sessions[s.ID]; exists {
		m.mu.Unlock()
		cancel()
		inv.Stop()
		return nil, fmt.Errorf("%w: %s", ErrExists, s.ID)
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	observability.SessionsActive.Inc()
	observability.SessionsStartedTotal.WithLabelValues(m.engine.Name()).Inc()
	slog.Info("session started",
		"session", s.ID, "engine", m.engine.Name(), "model", req.Model, "messages", len(req.Messages))

	go m.consume(s)
	return s, nil
}

// Get returns the live session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Updates returns the update stream of a live session.
func (m *Manager) Updates(id string) (<-chan Update, bool) {
	s, ok := m.Get(id)
	if !ok {
		return nil, false
	}
	return s.updates, true
}

// ToolSignal moves a session from Active to WaitingForTool.
func (m *Manager) ToolSignal(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	return m.transition(s, StateActive, StateWaitingForTool)
}

// ResultsDelivered moves a session from WaitingForTool back to Active and
// forwards results into the engine.
func (m *Manager) ResultsDelivered(id string, results []conversation.ToolResult) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	if err := m.transition(s, StateWaitingForTool, StateActive); err != nil {
		return err
	}
	s.mu.Lock()
	s.outstanding = nil
	s.mu.Unlock()

	if err := s.inv.Deliver(s.ctx, results); err != nil {
		return fmt.Errorf("deliver tool results: %w", err)
	}
	return nil
}

// Complete moves a session to Completed and releases it.
func (m *Manager) Complete(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return m.finish(s, StateCompleted, "")
}

// Abort moves a session to Aborted: pending tool calls are cancelled with
// reason, the engine invocation is stopped and all bookkeeping is released.
// It reports false for unknown or already ended sessions.
func (m *Manager) Abort(id string, reason correlator.Reason) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return m.finish(s, StateAborted, reason)
}

// Sweep aborts every session idle since before now minus the idle timeout.
// It returns the number of sessions aborted.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.lastActivity.Before(cutoff) {
			idle = append(idle, s)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	n := 0
	for _, s := range idle {
		if m.finish(s, StateAborted, correlator.ReasonIdle) {
			n++
		}
	}
	return n
}

// Shutdown aborts every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.finish(s, StateAborted, correlator.ReasonShutdown)
	}
}

// Run sweeps idle sessions every interval until ctx is done. Each of also
// is called on the same schedule, for the caches tied to session lifetime.
func (m *Manager) Run(ctx context.Context, interval time.Duration, also ...func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.now()); n > 0 {
				slog.Info("idle sessions swept", "count", n)
			}
			for _, fn := range also {
				fn()
			}
		}
	}
}

// Info returns a view of a live session.
func (m *Manager) Info(id string) (Info, bool) {
	s, ok := m.Get(id)
	if !ok {
		return Info{}, false
	}
	return m.info(s), true
}

// List returns views of all live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	infos := make([]Info, len(all))
	for i, s := range all {
		infos[i] = m.info(s)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) info(s *Session) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.ID,
		Model:          s.Model,
		Engine:         m.engine.Name(),
		State:          s.state.String(),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.lastActivity,
		PendingCalls:   m.correlator.PendingForSession(s.ID),
		Reason:         s.reason,
	}
}

func (m *Manager) touch(s *Session) {
	now := m.now()
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (m *Manager) transition(s *Session, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: %s -> %s (session is %s)", ErrInvalidTransition, from, to, s.state)
	}
	s.state = to
	s.lastActivity = m.now()
	debug.Log("sessions", "state change", "session", debug.Short(s.ID), "from", from, "to", to)
	return nil
}

// finish performs the single terminal transition of s and releases
// everything tied to it. Only the first caller wins.
func (m *Manager) finish(s *Session, state State, reason correlator.Reason) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	from := s.state
	s.state = state
	s.reason = reason
	s.outstanding = nil
	s.mu.Unlock()

	m.mu.Lock()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	hooks := append([]ReleaseFunc(nil), m.release...)
	m.mu.Unlock()

	cancelled := 0
	if state == StateAborted {
		cancelled = m.correlator.CancelAll(s.ID, reason)
	}
	s.cancel()
	s.inv.Stop()

	for _, fn := range hooks {
		fn(s.ID, state, reason)
	}
	close(s.done)

	label := string(reason)
	if label == "" {
		label = "none"
	}
	observability.SessionsActive.Dec()
	observability.SessionsEndedTotal.WithLabelValues(state.String(), label).Inc()

	attrs := []any{"session", s.ID, "from", from, "state", state}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if cancelled > 0 {
		attrs = append(attrs, "cancelled_calls", cancelled)
	}
	slog.Info("session ended", attrs...)
	return true
}

// consume reads the invocation's events in order until a terminal event,
// the end of the stream, or the end of the session.
func (m *Manager) consume(s *Session) {
	events := s.inv.Events()
	for {
		var ev engine.Event
		var ok bool
		select {
		case ev, ok = <-events:
		case <-s.ctx.Done():
			return
		}

		if !ok {
			if !s.State().Terminal() {
				s.publish(Update{Kind: UpdateFailed, Err: &EngineError{SessionID: s.ID, Err: ErrEngineClosed}})
				m.finish(s, StateAborted, correlator.ReasonEngineError)
			}
			return
		}

		m.touch(s)
		debug.Log("sessions", "engine event", "session", debug.Short(s.ID), "type", ev.Type)

		switch ev.Type {
		case engine.EventText:
			s.publish(Update{Kind: UpdateText, Text: ev.Text})

		case engine.EventToolUse:
			if !m.suspend(s, ev.ToolCalls) {
				return
			}

		case engine.EventTurnComplete:
			s.publish(Update{Kind: UpdateCompleted, FinishReason: ev.FinishReason})
			m.finish(s, StateCompleted, "")
			return

		case engine.EventError:
			s.publish(Update{Kind: UpdateFailed, Err: &EngineError{SessionID: s.ID, Err: ev.Err}})
			m.finish(s, StateAborted, correlator.ReasonEngineError)
			return
		}
	}
}

// suspend handles one tool round: it registers the calls, publishes them,
// waits for every result in call order and resumes the engine. It reports
// false when the session ended meanwhile.
func (m *Manager) suspend(s *Session, calls []conversation.ToolCall) bool {
	if err := m.transition(s, StateActive, StateWaitingForTool); err != nil {
		slog.Warn("unexpected tool use", "session", s.ID, "error", err)
		m.finish(s, StateAborted, correlator.ReasonEngineError)
		return false
	}

	// The client sees the registered ids; the engine gets its own back.
	engineIDs := make([]string, len(calls))
	calls = append([]conversation.ToolCall(nil), calls...)

	// Register before publishing so a result can never outrun its record.
	pending := make([]*correlator.Pending, len(calls))
	seen := make(map[string]bool, len(calls))
	for i := range calls {
		engineIDs[i] = calls[i].ID
		pending[i] = m.register(s, &calls[i], seen)
	}

	s.mu.Lock()
	s.outstanding = calls
	s.mu.Unlock()

	if !s.publish(Update{Kind: UpdateToolCalls, ToolCalls: calls}) {
		return false
	}

	results := make([]conversation.ToolResult, len(calls))
	for i, p := range pending {
		res, err := p.Wait(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				m.finish(s, StateAborted, correlator.ReasonOf(err))
			}
			return false
		}
		res.CallID = engineIDs[i]
		results[i] = res
		m.touch(s)
	}

	if err := m.ResultsDelivered(s.ID, results); err != nil {
		if s.ctx.Err() == nil {
			slog.Warn("resuming engine failed", "session", s.ID, "error", err)
			m.finish(s, StateAborted, correlator.ReasonEngineError)
		}
		return false
	}
	return true
}

// register records c as pending for s. Empty ids, ids repeated within the
// round and ids another session is waiting on are replaced by fresh ones,
// so a result can only ever reach the call it answers.
func (m *Manager) register(s *Session, c *conversation.ToolCall, seen map[string]bool) *correlator.Pending {
	if c.ID == "" || seen[c.ID] {
		c.ID = api.NewToolCallID()
	}
	for {
		p, err := m.correlator.Register(c.ID, s.ID, c.Name)
		if err == nil {
			seen[c.ID] = true
			return p
		}
		debug.Log("sessions", "tool call id taken, minting a new one",
			"session", debug.Short(s.ID), "call", c.ID, "error", err)
		c.ID = api.NewToolCallID()
	}
}
