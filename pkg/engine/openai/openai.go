// Package openai implements engine.Engine on an OpenAI-compatible Chat
// Completions API (OpenAI, vLLM, LiteLLM and similar servers).
//
// The backend model sees the client's tools as ordinary function tools.
// Streamed tool call deltas are aggregated per index; a step that ends with
// tool calls suspends the invocation until their results are delivered.
package openai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/engine"
)

// Name identifies this backend in logs and metrics.
const Name = "openai"

// Config holds configuration for the OpenAI-compatible engine.
type Config struct {
	// BaseURL is the API root including the version segment
	// (e.g., "http://localhost:8000/v1"). Empty uses api.openai.com.
	BaseURL string

	// APIKey for authentication. Empty falls back to OPENAI_API_KEY.
	APIKey string

	// Model, when set, replaces the model named by the client.
	Model string

	// MaxTokens bounds each response when the request does not. Zero leaves
	// the limit to the server.
	MaxTokens int64

	// MaxSteps bounds the model round trips of one invocation.
	MaxSteps int

	// MaxRetries for transient failures. Zero keeps the SDK default.
	MaxRetries int

	// Timeout bounds each API request. Zero disables it.
	Timeout time.Duration
}

// Engine runs invocations against a Chat Completions endpoint.
type Engine struct {
	client openai.Client
	cfg    Config
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// New creates an OpenAI-compatible engine. Extra request options are
// appended after the ones derived from cfg.
func New(cfg Config, opts ...option.RequestOption) *Engine {
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		clientOpts = append(clientOpts, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	clientOpts = append(clientOpts, opts...)

	return &Engine{
		client: openai.NewClient(clientOpts...),
		cfg:    cfg,
	}
}

// Name returns the backend identifier.
func (e *Engine) Name() string {
	return Name
}

// Start begins an invocation.
func (e *Engine) Start(ctx context.Context, req engine.StartRequest) (engine.Invocation, error) {
	tools, err := toolParams(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	model := e.cfg.Model
	if model == "" {
		model = req.Model
	}
	params := openai.ChatCompletionNewParams{
		Model: model,
		Tools: tools,
	}
	switch {
	case req.MaxTokens > 0:
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	case e.cfg.MaxTokens > 0:
		params.MaxCompletionTokens = openai.Int(e.cfg.MaxTokens)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := engine.NewStream(cancel)
	st := &stepper{
		client:  &e.client,
		params:  params,
		system:  req.SystemPrompt,
		history: append([]conversation.Message(nil), req.Messages...),
	}
	go engine.Loop(runCtx, s, Name, e.cfg.MaxSteps, st)
	return s, nil
}

// aggCall aggregates the streamed fragments of one tool call.
type aggCall struct{ id, name, args string }

type stepper struct {
	client  *openai.Client
	params  openai.ChatCompletionNewParams
	system  string
	history []conversation.Message
	text    string
}

func (s *stepper) Step(ctx context.Context, emit func(string)) ([]conversation.ToolCall, string, error) {
	params := s.params
	params.Messages = messageParams(s.system, s.history)

	stream := s.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	agg := map[int64]*aggCall{}
	finish := ""
	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				emit(ch.Delta.Content)
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := agg[tc.Index]
				if !ok {
					ac = &aggCall{}
					agg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args += tc.Function.Arguments
			}
			if ch.FinishReason != "" {
				finish = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, "", err
	}

	s.text = text.String()
	calls := collectCalls(agg)
	if len(calls) == 0 {
		s.history = append(s.history, conversation.Assistant(s.text))
	}
	if finish != "length" {
		finish = "stop"
	}
	return calls, finish, nil
}

func (s *stepper) Resume(calls []conversation.ToolCall, results []conversation.ToolResult) {
	s.history = engine.AppendToolRound(s.history, s.text, calls, results)
}

// collectCalls orders aggregated calls by stream index. Some compatible
// servers omit call ids or repeat them; those calls get fresh ids so every
// result can be matched to its call.
func collectCalls(agg map[int64]*aggCall) []conversation.ToolCall {
	if len(agg) == 0 {
		return nil
	}
	idx := make([]int64, 0, len(agg))
	for i := range agg {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	calls := make([]conversation.ToolCall, 0, len(idx))
	seen := make(map[string]bool, len(idx))
	for _, i := range idx {
		ac := agg[i]
		args := ac.args
		if args == "" {
			args = "{}"
		}
		id := ac.id
		if id == "" || seen[id] {
			id = api.NewToolCallID()
		}
		seen[id] = true
		calls = append(calls, conversation.ToolCall{ID: id, Name: ac.name, Arguments: args})
	}
	return calls
}
