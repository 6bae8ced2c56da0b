package protocol

import (
	"encoding/json"
	"time"

	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/model"
)

type openAIDeltaToolCall struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function OpenAIFunctionCall `json:"function"`
}

type openAIDelta struct {
	Role             string                 `json:"role,omitempty"`
	Content          *string                `json:"content,omitempty"`
	ReasoningContent *string                `json:"reasoning_content,omitempty"`
	ToolCalls        []openAIDeltaToolCall  `json:"tool_calls,omitempty"`
}

type openAIChunkChoice struct {
	Index        int         `json:"index"`
	Delta        openAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []openAIChunkChoice `json:"choices"`
	Usage   *openAIUsage        `json:"usage,omitempty"`
}

// OpenAIStreamRenderer turns the internal event stream into OpenAI
// chat.completion.chunk frames, per §4.2.
type OpenAIStreamRenderer struct {
	ID            string
	RequestedModel string
	SessionID     string
	UpstreamModel string
	ToolNames     *cache.ToolNameCache
	PassSignature bool

	created     int64
	hadToolCall bool
}

func NewOpenAIStreamRenderer(id, requestedModel, sessionID, upstreamModel string, toolNames *cache.ToolNameCache, passSignature bool) *OpenAIStreamRenderer {
	return &OpenAIStreamRenderer{
		ID: id, RequestedModel: requestedModel, SessionID: sessionID, UpstreamModel: upstreamModel,
		ToolNames: toolNames, PassSignature: passSignature, created: time.Now().Unix(),
	}
}

func (r *OpenAIStreamRenderer) chunk(choice openAIChunkChoice, usage *openAIUsage) openAIChunk {
	return openAIChunk{
		ID: r.ID, Object: "chat.completion.chunk", Created: r.created, Model: r.RequestedModel,
		Choices: []openAIChunkChoice{choice}, Usage: usage,
	}
}

// Start returns the optional leading role-announcement chunk.
func (r *OpenAIStreamRenderer) Start() any {
	return r.chunk(openAIChunkChoice{Delta: openAIDelta{Role: "assistant"}}, nil)
}

// Render converts one internal event into zero or more outbound frames.
func (r *OpenAIStreamRenderer) Render(e model.Event) []any {
	switch e.Kind {
	case model.EventReasoning:
		text := e.Text
		return []any{r.chunk(openAIChunkChoice{Delta: openAIDelta{ReasoningContent: &text}}, nil)}
	case model.EventText:
		text := e.Text
		return []any{r.chunk(openAIChunkChoice{Delta: openAIDelta{Content: &text}}, nil)}
	case model.EventToolCalls:
		r.hadToolCall = true
		calls := make([]openAIDeltaToolCall, 0, len(e.ToolCalls))
		for _, tc := range e.ToolCalls {
			name := tc.Name
			if r.ToolNames != nil {
				name = originalToolName(BuildContext{SessionID: r.SessionID, ToolNames: r.ToolNames}, r.UpstreamModel, tc.Name)
			}
			args, _ := json.Marshal(tc.Args)
			calls = append(calls, openAIDeltaToolCall{
				Index: tc.Index, ID: tc.ID, Type: "function",
				Function: OpenAIFunctionCall{Name: name, Arguments: string(args)},
			})
		}
		return []any{r.chunk(openAIChunkChoice{Delta: openAIDelta{ToolCalls: calls}}, nil)}
	case model.EventUsage:
		finish := "stop"
		if r.hadToolCall {
			finish = "tool_calls"
		}
		return []any{r.chunk(openAIChunkChoice{Delta: openAIDelta{}, FinishReason: &finish}, &openAIUsage{
			PromptTokens: e.Usage.PromptTokens, CompletionTokens: e.Usage.CompletionTokens, TotalTokens: e.Usage.TotalTokens,
		})}
	}
	return nil
}

// openAINonStreamResponse is the single-response shape for non-streaming
// calls, rendered from an already-aggregated result.
type openAINonStreamChoice struct {
	Index        int              `json:"index"`
	Message      openAINonStreamMsg `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type openAINonStreamMsg struct {
	Role             string                 `json:"role"`
	Content          string                 `json:"content"`
	ReasoningContent string                 `json:"reasoning_content,omitempty"`
	ToolCalls        []openAIDeltaToolCall  `json:"tool_calls,omitempty"`
}

type openAINonStreamResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []openAINonStreamChoice `json:"choices"`
	Usage   openAIUsage             `json:"usage"`
}

func RenderOpenAINonStream(id, requestedModel, sessionID, upstreamModel string, toolNames *cache.ToolNameCache, result model.AggregatedResult) any {
	finish := "stop"
	var calls []openAIDeltaToolCall
	if len(result.ToolCalls) > 0 {
		finish = "tool_calls"
		for _, tc := range result.ToolCalls {
			name := tc.Name
			if toolNames != nil {
				name = originalToolName(BuildContext{SessionID: sessionID, ToolNames: toolNames}, upstreamModel, tc.Name)
			}
			args, _ := json.Marshal(tc.Args)
			calls = append(calls, openAIDeltaToolCall{Index: tc.Index, ID: tc.ID, Type: "function", Function: OpenAIFunctionCall{Name: name, Arguments: string(args)}})
		}
	}
	return openAINonStreamResponse{
		ID: id, Object: "chat.completion", Created: time.Now().Unix(), Model: requestedModel,
		Choices: []openAINonStreamChoice{{
			Index: 0, FinishReason: finish,
			Message: openAINonStreamMsg{Role: "assistant", Content: result.Content, ReasoningContent: result.ReasoningContent, ToolCalls: calls},
		}},
		Usage: openAIUsage{PromptTokens: result.Usage.PromptTokens, CompletionTokens: result.Usage.CompletionTokens, TotalTokens: result.Usage.TotalTokens},
	}
}
