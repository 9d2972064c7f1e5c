package gateway

import (
	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/conversation"
)

// completion builds the non-streaming form of the current response.
func (t *turn) completion(text string, calls []conversation.ToolCall, finish string) *api.ChatCompletionResponse {
	msg := api.ChatMessage{
		Role:      string(conversation.RoleAssistant),
		ToolCalls: api.FromToolCalls(calls),
	}
	if text != "" {
		msg.Content = text
	}
	return &api.ChatCompletionResponse{
		ID:      t.id,
		Object:  api.ObjectChatCompletion,
		Created: t.created,
		Model:   t.req.Model,
		Choices: []api.ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
		SessionID: t.sessionID,
	}
}

// respond ends the request. Streaming clients already received the text as
// it was produced, so only the calls and the finish chunk remain.
func (t *turn) respond(text string, calls []conversation.ToolCall, finish string) error {
	if !t.req.Stream {
		return t.w.WriteCompletion(t.ctx, t.completion(text, calls, finish))
	}
	return t.finishStream(api.FromToolCalls(calls), finish)
}

// replay sends a cached response as if it had just been produced.
func (t *turn) replay(resp *api.ChatCompletionResponse) error {
	if !t.req.Stream {
		return t.w.WriteCompletion(t.ctx, resp)
	}

	t.id, t.created = resp.ID, resp.Created
	choice := resp.Choices[0]
	if text, _, _ := api.ContentText(choice.Message.Content); text != "" {
		if err := t.writeChunk(api.ChatDelta{Content: text}, nil); err != nil {
			return err
		}
	}
	return t.finishStream(choice.Message.ToolCalls, choice.FinishReason)
}

func (t *turn) finishStream(calls []api.ChatToolCall, finish string) error {
	if len(calls) > 0 {
		deltas := make([]api.ChatToolCallDelta, len(calls))
		for i, c := range calls {
			deltas[i] = api.ChatToolCallDelta{
				Index:    i,
				ID:       c.ID,
				Type:     c.Type,
				Function: c.Function,
			}
		}
		if err := t.writeChunk(api.ChatDelta{ToolCalls: deltas}, nil); err != nil {
			return err
		}
	}
	return t.writeChunk(api.ChatDelta{}, &finish)
}

// writeChunk sends one chunk. The first chunk of a response announces the
// assistant role.
func (t *turn) writeChunk(delta api.ChatDelta, finish *string) error {
	if !t.started {
		delta.Role = string(conversation.RoleAssistant)
		t.started = true
	}
	return t.w.WriteChunk(t.ctx, &api.ChatCompletionChunk{
		ID:      t.id,
		Object:  api.ObjectChatCompletionChunk,
		Created: t.created,
		Model:   t.req.Model,
		Choices: []api.ChatChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	})
}
