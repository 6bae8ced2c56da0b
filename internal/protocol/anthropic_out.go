package protocol

import (
	"encoding/json"

	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/model"
)

type anthropicMessageStart struct {
	Type    string                 `json:"type"`
	Message anthropicMessageHeader `json:"message"`
}

type anthropicMessageHeader struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Role    string         `json:"role"`
	Model   string         `json:"model"`
	Content []any          `json:"content"`
	Usage   anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicBlockStart struct {
	Type         string         `json:"type"`
	Index        int            `json:"index"`
	ContentBlock map[string]any `json:"content_block"`
}

type anthropicBlockDelta struct {
	Type  string         `json:"type"`
	Index int            `json:"index"`
	Delta map[string]any `json:"delta"`
}

type anthropicBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type anthropicMessageDelta struct {
	Type  string                  `json:"type"`
	Delta anthropicMessageDeltaBody `json:"delta"`
	Usage anthropicUsage          `json:"usage"`
}

type anthropicMessageDeltaBody struct {
	StopReason string `json:"stop_reason"`
}

type anthropicMessageStop struct {
	Type string `json:"type"`
}

// AnthropicStreamRenderer renders the internal event stream as the
// documented Anthropic SSE event sequence (§4.2): message_start, a
// content_block_start/delta/stop run per visible block, message_delta,
// message_stop.
type AnthropicStreamRenderer struct {
	ID            string
	RequestedModel string
	SessionID     string
	UpstreamModel string
	ToolNames     *cache.ToolNameCache
	PassSignature bool

	nextIndex      int
	openBlockType  string // "" | thinking | text | tool_use
	openBlockIndex int
	reasoningSig   string
	hadToolUse     bool
}

func NewAnthropicStreamRenderer(id, requestedModel, sessionID, upstreamModel string, toolNames *cache.ToolNameCache, passSignature bool) *AnthropicStreamRenderer {
	return &AnthropicStreamRenderer{ID: id, RequestedModel: requestedModel, SessionID: sessionID, UpstreamModel: upstreamModel, ToolNames: toolNames, PassSignature: passSignature}
}

func (r *AnthropicStreamRenderer) Start() any {
	return anthropicMessageStart{Type: "message_start", Message: anthropicMessageHeader{
		ID: r.ID, Type: "message", Role: "assistant", Model: r.RequestedModel, Content: []any{},
	}}
}

func (r *AnthropicStreamRenderer) closeCurrent() []any {
	if r.openBlockType == "" {
		return nil
	}
	var frames []any
	if r.openBlockType == "thinking" && r.PassSignature && r.reasoningSig != "" {
		frames = append(frames, anthropicBlockDelta{Type: "content_block_delta", Index: r.openBlockIndex, Delta: map[string]any{"type": "signature_delta", "signature": r.reasoningSig}})
	}
	frames = append(frames, anthropicBlockStop{Type: "content_block_stop", Index: r.openBlockIndex})
	r.openBlockType = ""
	r.reasoningSig = ""
	return frames
}

func (r *AnthropicStreamRenderer) openBlock(blockType string, block map[string]any) []any {
	frames := r.closeCurrent()
	r.openBlockType = blockType
	r.openBlockIndex = r.nextIndex
	r.nextIndex++
	frames = append(frames, anthropicBlockStart{Type: "content_block_start", Index: r.openBlockIndex, ContentBlock: block})
	return frames
}

// Render converts one internal event into zero or more outbound frames.
func (r *AnthropicStreamRenderer) Render(e model.Event) []any {
	switch e.Kind {
	case model.EventReasoning:
		var frames []any
		if r.openBlockType != "thinking" {
			frames = append(frames, r.openBlock("thinking", map[string]any{"type": "thinking", "thinking": ""})...)
		}
		if e.ThoughtSig != "" {
			r.reasoningSig = e.ThoughtSig
		}
		frames = append(frames, anthropicBlockDelta{Type: "content_block_delta", Index: r.openBlockIndex, Delta: map[string]any{"type": "thinking_delta", "thinking": e.Text}})
		return frames

	case model.EventText:
		var frames []any
		if r.openBlockType != "text" {
			frames = append(frames, r.openBlock("text", map[string]any{"type": "text", "text": ""})...)
		}
		frames = append(frames, anthropicBlockDelta{Type: "content_block_delta", Index: r.openBlockIndex, Delta: map[string]any{"type": "text_delta", "text": e.Text}})
		return frames

	case model.EventToolCalls:
		r.hadToolUse = true
		var frames []any
		for _, tc := range e.ToolCalls {
			name := tc.Name
			if r.ToolNames != nil {
				name = originalToolName(BuildContext{SessionID: r.SessionID, ToolNames: r.ToolNames}, r.UpstreamModel, tc.Name)
			}
			frames = append(frames, r.openBlock("tool_use", map[string]any{"type": "tool_use", "id": tc.ID, "name": name, "input": map[string]any{}})...)
			args, _ := json.Marshal(tc.Args)
			frames = append(frames, anthropicBlockDelta{Type: "content_block_delta", Index: r.openBlockIndex, Delta: map[string]any{"type": "input_json_delta", "partial_json": string(args)}})
			frames = append(frames, r.closeCurrent()...)
		}
		return frames

	case model.EventUsage:
		frames := r.closeCurrent()
		stopReason := "end_turn"
		if r.hadToolUse {
			stopReason = "tool_use"
		}
		frames = append(frames,
			anthropicMessageDelta{Type: "message_delta", Delta: anthropicMessageDeltaBody{StopReason: stopReason}, Usage: anthropicUsage{OutputTokens: e.Usage.CompletionTokens}},
			anthropicMessageStop{Type: "message_stop"},
		)
		return frames
	}
	return nil
}

func RenderAnthropicNonStream(id, requestedModel, sessionID, upstreamModel string, toolNames *cache.ToolNameCache, passSignature bool, result model.AggregatedResult) any {
	var content []map[string]any
	if result.ReasoningContent != "" {
		blk := map[string]any{"type": "thinking", "thinking": result.ReasoningContent}
		if passSignature && result.ReasoningSignature != "" {
			blk["signature"] = result.ReasoningSignature
		}
		content = append(content, blk)
	}
	if result.Content != "" {
		content = append(content, map[string]any{"type": "text", "text": result.Content})
	}
	stopReason := "end_turn"
	for _, tc := range result.ToolCalls {
		stopReason = "tool_use"
		name := tc.Name
		if toolNames != nil {
			name = originalToolName(BuildContext{SessionID: sessionID, ToolNames: toolNames}, upstreamModel, tc.Name)
		}
		content = append(content, map[string]any{"type": "tool_use", "id": tc.ID, "name": name, "input": tc.Args})
	}
	return map[string]any{
		"id": id, "type": "message", "role": "assistant", "model": requestedModel,
		"content":     content,
		"stop_reason": stopReason,
		"usage": anthropicUsage{
			InputTokens: result.Usage.PromptTokens, OutputTokens: result.Usage.CompletionTokens,
		},
	}
}
