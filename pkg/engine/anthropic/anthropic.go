// Package anthropic implements engine.Engine on the Anthropic Messages API.
//
// Every step is one streaming Messages call carrying the whole history.
// Client tools are offered as Anthropic tools; when the model stops with
// tool_use the invocation suspends until the gateway delivers the results,
// which are appended as tool_result blocks before the next step.
package anthropic

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rhuss/faden/pkg/conversation"
	"github.com/rhuss/faden/pkg/engine"
)

// Name identifies this backend in logs and metrics.
const Name = "anthropic"

const defaultMaxTokens = 4096

// Config holds configuration for the Anthropic engine.
type Config struct {
	// APIKey authenticates against the API. Empty falls back to the
	// ANTHROPIC_API_KEY environment variable read by the SDK.
	APIKey string

	// BaseURL overrides the API endpoint (proxies, tests).
	BaseURL string

	// Model, when set, is used for every invocation regardless of the model
	// the client asked for.
	Model string

	// MaxTokens bounds each model response when the request does not.
	MaxTokens int64

	// MaxSteps bounds the model round trips of one invocation.
	MaxSteps int

	// MaxRetries for transient API failures. Zero keeps the SDK default.
	MaxRetries int

	// Timeout bounds each API request. Zero disables it.
	Timeout time.Duration
}

// Engine runs invocations against the Messages API.
type Engine struct {
	client anthropic.Client
	cfg    Config
}

// Ensure Engine implements engine.Engine at compile time.
var _ engine.Engine = (*Engine)(nil)

// New creates an Anthropic engine. Extra request options are appended after
// the ones derived from cfg.
func New(cfg Config, opts ...option.RequestOption) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

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
		client: anthropic.NewClient(clientOpts...),
		cfg:    cfg,
	}
}

// Name returns the backend identifier.
func (e *Engine) Name() string {
	return Name
}

// Start begins an invocation. The model is only contacted once the
// invocation's producer goroutine runs its first step, so Start itself only
// fails on tool definitions that cannot be translated.
func (e *Engine) Start(ctx context.Context, req engine.StartRequest) (engine.Invocation, error) {
	tools, err := toolParams(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	model := e.cfg.Model
	if model == "" {
		model = req.Model
	}
	maxTokens := e.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Tools:     tools,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	// The invocation outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := engine.NewStream(cancel)
	st := &stepper{
		client:  &e.client,
		params:  params,
		history: append([]conversation.Message(nil), req.Messages...),
	}
	go engine.Loop(runCtx, s, Name, e.cfg.MaxSteps, st)
	return s, nil
}

// stepper keeps the conversation in neutral form and rebuilds the request
// params on every step.
type stepper struct {
	client  *anthropic.Client
	params  anthropic.MessageNewParams
	history []conversation.Message
	text    string
}

func (s *stepper) Step(ctx context.Context, emit func(string)) ([]conversation.ToolCall, string, error) {
	params := s.params
	params.Messages = messageParams(s.history)

	stream := s.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var msg anthropic.Message
	for stream.Next() {
		ev := stream.Current()
		if err := msg.Accumulate(ev); err != nil {
			return nil, "", fmt.Errorf("accumulate stream: %w", err)
		}
		if ev.Type == "content_block_delta" && ev.Delta.Type == "text_delta" {
			emit(ev.Delta.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, "", err
	}

	text, calls := fromContent(msg.Content)
	s.text = text
	if len(calls) == 0 {
		s.history = append(s.history, conversation.Assistant(text))
	}
	return calls, finishReason(msg.StopReason), nil
}

func (s *stepper) Resume(calls []conversation.ToolCall, results []conversation.ToolResult) {
	s.history = engine.AppendToolRound(s.history, s.text, calls, results)
}

func finishReason(r anthropic.StopReason) string {
	if r == anthropic.StopReasonMaxTokens {
		return "length"
	}
	return "stop"
}
