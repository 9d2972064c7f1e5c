// Package gateway serves Chat Completions requests on top of long-lived
// engine sessions.
//
// Clients are stateless and resend the whole history on every request. The
// gateway recognizes which live session a request continues by matching the
// history against message snapshots recorded when earlier responses were
// sent, then either feeds the new tool results into the suspended session or
// starts a fresh one.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/correlator"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/engine"
	"github.com/rhuss/faden/pkg/observability"
	"github.com/rhuss/faden/pkg/serializer"
	"github.com/rhuss/faden/pkg/session"
	"github.com/rhuss/faden/pkg/snapshot"
	"github.com/rhuss/faden/pkg/storage"
	"github.com/rhuss/faden/pkg/transport"
)

// Config holds the request defaults applied by the gateway.
type Config struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string

	// DefaultSystemPrompt is used when a request carries no system message.
	DefaultSystemPrompt string

	// SequentialByDefault hands out one tool call per response unless the
	// request sets parallel_tool_calls.
	SequentialByDefault bool

	// MaxTokens bounds engine output when the request does not.
	MaxTokens int

	Validation api.ValidationConfig
}

// Gateway implements transport.CompletionCreator and transport.SessionAdmin.
type Gateway struct {
	cfg        Config
	sessions   *session.Manager
	correlator *correlator.Correlator
	snapshots  *snapshot.Store
	serializer *serializer.Serializer
	replays    storage.ReplayStore
	newID      func() string
	now        func() time.Time
}

var (
	_ transport.CompletionCreator = (*Gateway)(nil)
	_ transport.SessionAdmin      = (*Gateway)(nil)
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithReplayStore enables exact-replay answers for retried requests.
func WithReplayStore(s storage.ReplayStore) Option {
	return func(g *Gateway) { g.replays = s }
}

// WithIDGenerator replaces the session id generator (UUIDv4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) { g.newID = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway over the given session manager and stores. It
// registers a release hook on sessions so snapshots and batches of ended
// sessions are dropped.
func New(cfg Config, sessions *session.Manager, corr *correlator.Correlator, snaps *snapshot.Store, opts ...Option) *Gateway {
	if cfg.Validation == (api.ValidationConfig{}) {
		cfg.Validation = api.DefaultValidationConfig()
	}
	g := &Gateway{
		cfg:        cfg,
		sessions:   sessions,
		correlator: corr,
		snapshots:  snaps,
		serializer: serializer.New(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	sessions.OnRelease(g.release)
	return g
}

func (g *Gateway) release(id string, state session.State, reason correlator.Reason) {
	n := g.snapshots.Invalidate(id)
	g.serializer.Release(id)
	debug.Log("snapshots", "session released", "session", debug.Short(id), "state", state, "snapshots", n)
}

// CreateCompletion serves one chat completion request.
func (g *Gateway) CreateCompletion(ctx context.Context, req *api.ChatCompletionRequest, w transport.CompletionWriter) error {
	if req.Model == "" {
		req.Model = g.cfg.DefaultModel
	}
	if apiErr := api.ValidateRequest(req, g.cfg.Validation); apiErr != nil {
		return apiErr
	}
	observability.SetModel(ctx, req.Model)

	msgs, apiErr := api.ToConversation(req.Messages)
	if apiErr != nil {
		return apiErr
	}
	tools := api.ToolDefinitions(req.Tools)

	t := &turn{
		g:          g,
		ctx:        ctx,
		req:        req,
		w:          w,
		messages:   msgs,
		tools:      tools,
		scope:      conversation.ScopeKey(req.Model, tools),
		sequential: req.SequentialToolCalls(g.cfg.SequentialByDefault),
		id:         api.NewCompletionID(),
		created:    g.now().Unix(),
	}
	return t.run()
}

// ListSessions returns all live sessions, oldest first.
func (g *Gateway) ListSessions(_ context.Context) []session.Info {
	return g.sessions.List()
}

// AbortSession terminates a live session and drops its cached replays.
func (g *Gateway) AbortSession(ctx context.Context, id string) error {
	if !g.sessions.Abort(id, correlator.ReasonExplicit) {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if g.replays != nil {
		g.replays.DeleteSession(ctx, id)
	}
	return nil
}

// turn is the state of one request.
type turn struct {
	g          *Gateway
	ctx        context.Context
	req        *api.ChatCompletionRequest
	w          transport.CompletionWriter
	messages   []conversation.Message
	tools      []conversation.ToolDefinition
	scope      conversation.Key
	sequential bool

	id        string
	created   int64
	sessionID string
	text      strings.Builder
	started   bool
}

func (t *turn) run() error {
	g := t.g

	if g.replays != nil {
		r, err := g.replays.GetReplay(t.ctx, conversation.SequenceKey(t.scope, t.messages))
		switch {
		case err == nil:
			observability.SnapshotLookupsTotal.WithLabelValues("replay").Inc()
			t.bind(r.SessionID)
			debug.Log("replay", "exact replay", "session", debug.Short(r.SessionID))
			return t.replay(r.Response)
		case !errors.Is(err, storage.ErrNotFound):
			slog.Warn("replay lookup failed", "error", err)
		}
	}

	match, ok := g.snapshots.FindLongestMatch(t.scope, t.messages)
	if !ok {
		observability.SnapshotLookupsTotal.WithLabelValues("miss").Inc()
		return t.startNew()
	}
	sess, live := g.sessions.Get(match.SessionID)
	if !live {
		observability.SnapshotLookupsTotal.WithLabelValues("miss").Inc()
		return t.startNew()
	}
	observability.SnapshotLookupsTotal.WithLabelValues("hit").Inc()

	kind, results := Classify(t.messages[match.MatchedLength:])
	debug.Log("snapshots", "prefix matched",
		"session", debug.Short(sess.ID), "matched", match.MatchedLength, "messages", len(t.messages), "suffix", kind)

	switch kind {
	case SuffixEmpty:
		return t.resend(sess)
	case SuffixToolResults:
		return t.deliver(sess, results)
	default:
		return t.restart(sess.ID)
	}
}

// resend answers a retried request with the calls the session is still
// waiting on.
func (t *turn) resend(sess *session.Session) error {
	t.bind(sess.ID)
	if call, ok := t.g.serializer.Current(sess.ID); ok {
		return t.respondCalls(sess.ID, "", []conversation.ToolCall{call})
	}
	if calls := t.unanswered(sess, nil); len(calls) > 0 {
		return t.respondCalls(sess.ID, "", calls)
	}
	return t.restart(sess.ID)
}

// deliver hands client tool results to a suspended session and waits for
// the engine's next turn.
func (t *turn) deliver(sess *session.Session, results []conversation.ToolResult) error {
	g := t.g

	var rest []conversation.ToolCall
	if g.serializer.Active(sess.ID) {
		var step serializer.Step
		for _, r := range results {
			s, err := g.serializer.OnClientResult(sess.ID, r)
			if errors.Is(err, serializer.ErrNoBatch) {
				break
			}
			if err != nil {
				slog.Warn("tool result outside sequential batch", "session", sess.ID, "call_id", r.CallID)
				return t.restart(sess.ID)
			}
			step = s
			if step.Done {
				break
			}
		}
		switch {
		case step.Done:
			results = step.Results
		case step.Next != nil:
			t.bind(sess.ID)
			return t.respondCalls(sess.ID, "", []conversation.ToolCall{*step.Next})
		default:
			return t.restart(sess.ID)
		}
	} else {
		if !t.allPending(sess.ID, results) {
			return t.restart(sess.ID)
		}
		// Taken before resolving: once the last result lands the engine
		// may already register its next round.
		rest = t.unanswered(sess, results)
	}

	for _, r := range results {
		if !g.correlator.Resolve(r.CallID, r) {
			// Timed out or cancelled since the check above.
			slog.Warn("tool result arrived too late", "session", sess.ID, "call_id", r.CallID)
			return t.restart(sess.ID)
		}
	}
	t.bind(sess.ID)

	if len(rest) > 0 {
		return t.respondCalls(sess.ID, "", rest)
	}
	return t.await(sess)
}

// allPending reports whether every result answers a call the session is
// waiting on, each at most once.
func (t *turn) allPending(sessionID string, results []conversation.ToolResult) bool {
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		owner, ok := t.g.correlator.SessionOf(r.CallID)
		if !ok || owner != sessionID || seen[r.CallID] {
			slog.Warn("tool result for unknown call", "session", sessionID, "call_id", r.CallID)
			return false
		}
		seen[r.CallID] = true
	}
	return true
}

// unanswered returns the calls still pending for the session that results
// leaves without an answer, in call order. Calls resolved by earlier
// requests stay outstanding until the round completes, so the correlator
// decides what is still open.
func (t *turn) unanswered(sess *session.Session, results []conversation.ToolResult) []conversation.ToolCall {
	pending := t.g.correlator.PendingForSession(sess.ID)
	var rest []conversation.ToolCall
	for _, c := range sess.Outstanding() {
		if !slices.Contains(pending, c.ID) {
			continue
		}
		if !slices.ContainsFunc(results, func(r conversation.ToolResult) bool { return r.CallID == c.ID }) {
			rest = append(rest, c)
		}
	}
	return rest
}

// restart abandons the session and serves the request from a new one.
func (t *turn) restart(sessionID string) error {
	t.g.sessions.Abort(sessionID, correlator.ReasonNewInput)
	return t.startNew()
}

func (t *turn) startNew() error {
	g := t.g

	prompt, rest := conversation.SplitSystem(t.messages)
	if prompt == "" {
		prompt = g.cfg.DefaultSystemPrompt
	}
	maxTokens := t.req.MaxOutputTokens()
	if maxTokens == 0 {
		maxTokens = g.cfg.MaxTokens
	}

	sess, err := g.sessions.Create(t.ctx, engine.StartRequest{
		SessionID:    g.newID(),
		Model:        t.req.Model,
		SystemPrompt: prompt,
		Messages:     rest,
		Tools:        t.tools,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		var engErr *session.EngineError
		if errors.As(err, &engErr) {
			return api.NewModelError(engErr.Err.Error())
		}
		return api.NewServerError(err.Error())
	}
	t.bind(sess.ID)
	return t.await(sess)
}

// await reads session updates until one ends this request.
func (t *turn) await(sess *session.Session) error {
	for {
		select {
		case <-t.ctx.Done():
			t.g.sessions.Abort(sess.ID, correlator.ReasonClientDisconnect)
			return t.ctx.Err()

		case u := <-sess.Updates():
			if done, err := t.handle(sess, u); done {
				return err
			}

		case <-sess.Done():
			// Updates published right before the session ended may still
			// be buffered.
			for {
				select {
				case u := <-sess.Updates():
					if done, err := t.handle(sess, u); done {
						return err
					}
				default:
					return api.NewSessionEndedError(sess.ID, string(sess.Reason()))
				}
			}
		}
	}
}

func (t *turn) handle(sess *session.Session, u session.Update) (bool, error) {
	switch u.Kind {
	case session.UpdateText:
		t.text.WriteString(u.Text)
		if t.req.Stream && u.Text != "" {
			if err := t.writeChunk(api.ChatDelta{Content: u.Text}, nil); err != nil {
				t.g.sessions.Abort(sess.ID, correlator.ReasonClientDisconnect)
				return true, err
			}
		}
		return false, nil

	case session.UpdateToolCalls:
		calls := u.ToolCalls
		if t.sequential && len(calls) > 1 {
			calls = []conversation.ToolCall{t.g.serializer.Begin(sess.ID, calls)}
		}
		return true, t.respondCalls(sess.ID, t.text.String(), calls)

	case session.UpdateCompleted:
		return true, t.complete(sess.ID, u.FinishReason)

	case session.UpdateFailed:
		msg := "engine failed"
		if u.Err != nil {
			msg = u.Err.Error()
		}
		return true, api.NewModelError(msg)
	}
	return false, nil
}

// respondCalls records the snapshots that let the client's next request
// find this session, then sends calls to the client.
func (t *turn) respondCalls(sessionID, text string, calls []conversation.ToolCall) error {
	reply := conversation.Assistant(text, calls...)
	t.g.snapshots.Create(t.scope, t.messages, sessionID)
	t.g.snapshots.Create(t.scope, append(slices.Clone(t.messages), reply), sessionID)
	return t.respond(text, calls, api.FinishReasonToolCalls)
}

func (t *turn) complete(sessionID, finish string) error {
	if finish == "" {
		finish = api.FinishReasonStop
	}
	text := t.text.String()

	if t.g.replays != nil {
		r := &storage.Replay{
			SessionID: sessionID,
			Response:  t.completion(text, nil, finish),
		}
		key := conversation.SequenceKey(t.scope, t.messages)
		if err := t.g.replays.SaveReplay(context.WithoutCancel(t.ctx), key, r); err != nil {
			slog.Warn("saving replay failed", "session", sessionID, "error", err)
		}
	}
	return t.respond(text, nil, finish)
}

func (t *turn) bind(sessionID string) {
	t.sessionID = sessionID
	transport.SetSessionID(t.ctx, sessionID)
}
