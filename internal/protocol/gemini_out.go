package protocol

import (
	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/model"
)

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponseCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiResponseFrame struct {
	Candidates    []geminiResponseCandidate `json:"candidates"`
	UsageMetadata *geminiUsageMetadata      `json:"usageMetadata,omitempty"`
}

// GeminiStreamRenderer renders the internal event stream as Gemini
// candidate/content frames (§4.2); each frame carries at most one parts
// array matching the event's kind.
type GeminiStreamRenderer struct {
	SessionID     string
	UpstreamModel string
	ToolNames     *cache.ToolNameCache
	PassSignature bool
}

func strPtr(s string) *string { return &s }

func (r *GeminiStreamRenderer) sig(s string) string {
	if !r.PassSignature {
		return ""
	}
	return s
}

// Render converts one internal event into zero or one outbound frame.
func (r *GeminiStreamRenderer) Render(e model.Event) []any {
	switch e.Kind {
	case model.EventReasoning:
		return []any{geminiResponseFrame{Candidates: []geminiResponseCandidate{{Content: geminiContent{
			Role:  "model",
			Parts: []geminiPart{{Text: strPtr(e.Text), Thought: true, ThoughtSignature: r.sig(e.ThoughtSig)}},
		}}}}}

	case model.EventText:
		return []any{geminiResponseFrame{Candidates: []geminiResponseCandidate{{Content: geminiContent{
			Role:  "model",
			Parts: []geminiPart{{Text: strPtr(e.Text)}},
		}}}}}

	case model.EventToolCalls:
		parts := make([]geminiPart, 0, len(e.ToolCalls))
		for _, tc := range e.ToolCalls {
			name := tc.Name
			if r.ToolNames != nil {
				name = originalToolName(BuildContext{SessionID: r.SessionID, ToolNames: r.ToolNames}, r.UpstreamModel, tc.Name)
			}
			parts = append(parts, geminiPart{
				FunctionCall:     &geminiFunctionCall{ID: tc.ID, Name: name, Args: tc.Args},
				ThoughtSignature: r.sig(tc.Sig),
			})
		}
		return []any{geminiResponseFrame{Candidates: []geminiResponseCandidate{{Content: geminiContent{Role: "model", Parts: parts}}}}}

	case model.EventUsage:
		// §9 Open Question: both of the source's finish-reason branches
		// collapse to STOP; preserved bit-for-bit here.
		return []any{geminiResponseFrame{
			Candidates:    []geminiResponseCandidate{{Content: geminiContent{Role: "model", Parts: []geminiPart{}}, FinishReason: "STOP"}},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: e.Usage.PromptTokens, CandidatesTokenCount: e.Usage.CompletionTokens, TotalTokenCount: e.Usage.TotalTokens},
		}}
	}
	return nil
}

func RenderGeminiNonStream(sessionID, upstreamModel string, toolNames *cache.ToolNameCache, passSignature bool, result model.AggregatedResult) any {
	var parts []geminiPart
	if result.ReasoningContent != "" {
		sig := ""
		if passSignature {
			sig = result.ReasoningSignature
		}
		parts = append(parts, geminiPart{Text: strPtr(result.ReasoningContent), Thought: true, ThoughtSignature: sig})
	}
	if result.Content != "" {
		parts = append(parts, geminiPart{Text: strPtr(result.Content)})
	}
	for _, tc := range result.ToolCalls {
		name := tc.Name
		if toolNames != nil {
			name = originalToolName(BuildContext{SessionID: sessionID, ToolNames: toolNames}, upstreamModel, tc.Name)
		}
		sig := ""
		if passSignature {
			sig = tc.Sig
		}
		parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{ID: tc.ID, Name: name, Args: tc.Args}, ThoughtSignature: sig})
	}
	return geminiResponseFrame{
		Candidates: []geminiResponseCandidate{{Content: geminiContent{Role: "model", Parts: parts}, FinishReason: "STOP"}},
		UsageMetadata: &geminiUsageMetadata{
			PromptTokenCount: result.Usage.PromptTokens, CandidatesTokenCount: result.Usage.CompletionTokens, TotalTokenCount: result.Usage.TotalTokens,
		},
	}
}
