package protocol

import (
	"encoding/json"
	"testing"

	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/model"
	"antigravity-gateway/internal/pressure"
)

func testBuildContext() BuildContext {
	src := pressure.NewSource()
	return BuildContext{
		SessionID:              "sess1",
		Project:                "proj1",
		RequestID:              "req1",
		Defaults:               Defaults{Temperature: 1, TopP: 0.95, TopK: 64, MaxTokens: 8192},
		Signatures:             cache.NewSignatureCache(src),
		ToolSignatures:         cache.NewSignatureCache(src),
		ToolNames:              cache.NewToolNameCache(src),
		UseContextSystemPrompt: true,
		PassSignatureToClient:  true,
	}
}

func TestMapModelPreservesOpusOddity(t *testing.T) {
	if got := MapModel("claude-opus-4-5"); got != "claude-opus-4-5-thinking" {
		t.Fatalf("expected claude-opus-4-5 -> claude-opus-4-5-thinking, got %q", got)
	}
	if got := MapModel("claude-sonnet-4-5-thinking"); got != "claude-sonnet-4-5" {
		t.Fatalf("unexpected mapping: %q", got)
	}
	if got := MapModel("gpt-4"); got != "gpt-4" {
		t.Fatalf("unmapped model must pass through, got %q", got)
	}
}

func TestThinkingEnabledForModel(t *testing.T) {
	cases := map[string]bool{
		"claude-sonnet-4-5-thinking": true,
		"gemini-2.5-pro":             true,
		"gemini-3-pro-latest":        true,
		"rev19-uic3-1p":              true,
		"gemini-2.5-flash":           false,
		"claude-opus-4-5":            false, // thinking is derived from the *requested* name before mapping
	}
	for model, want := range cases {
		if got := ThinkingEnabledForModel(model); got != want {
			t.Errorf("ThinkingEnabledForModel(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestSanitizeSchemaStripsDisallowedKeys(t *testing.T) {
	schema := map[string]any{
		"type":             "string",
		"minLength":        1,
		"additionalProperties": false,
		"anyOf":            []any{map[string]any{"const": "x"}},
	}
	out := SanitizeSchema(schema)
	for _, bad := range []string{"minLength", "additionalProperties", "anyOf"} {
		if _, ok := out[bad]; ok {
			t.Errorf("expected %q to be stripped", bad)
		}
	}
}

func TestSanitizeSchemaFillsDefaults(t *testing.T) {
	out := SanitizeSchema(map[string]any{})
	if out["type"] != "object" {
		t.Fatalf("expected default type object, got %v", out["type"])
	}
	if _, ok := out["properties"]; !ok {
		t.Fatal("expected default empty properties")
	}
}

func TestOpenAIToolCallRoundTripPreservesArgsAndID(t *testing.T) {
	bc := testBuildContext()
	req := &OpenAIChatRequest{
		Model:  "gemini-2.5-flash",
		Stream: true,
		Messages: []OpenAIMessage{
			{Role: "user", Content: json.RawMessage(`"what's the weather in Beijing"`)},
		},
		Tools: []OpenAITool{{Type: "function", Function: OpenAIFunctionDef{Name: "get weather!", Parameters: map[string]any{"type": "object"}}}},
	}
	internal := OpenAIToInternal(req, bc)
	if len(internal.Request.Tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(internal.Request.Tools))
	}
	sanitized := internal.Request.Tools[0].Name
	if sanitized == "get weather!" {
		t.Fatal("expected tool name to be sanitized")
	}

	// Simulate the upstream echoing back a tool call using the sanitized name.
	renderer := NewOpenAIStreamRenderer("resp1", req.Model, bc.SessionID, internal.Model, bc.ToolNames, bc.PassSignatureToClient)
	frames := renderer.Render(model.Event{
		Kind: model.EventToolCalls,
		ToolCalls: []model.ToolCallEvent{{Index: 0, ID: "c1", Name: sanitized, Args: map[string]any{"city": "Beijing"}}},
	})
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	chunk := frames[0].(openAIChunk)
	tc := chunk.Choices[0].Delta.ToolCalls[0]
	if tc.ID != "c1" {
		t.Fatalf("expected tool call id preserved, got %q", tc.ID)
	}
	if tc.Function.Name != "get weather!" {
		t.Fatalf("expected original tool name restored, got %q", tc.Function.Name)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		t.Fatalf("expected valid JSON arguments: %v", err)
	}
	if args["city"] != "Beijing" {
		t.Fatalf("expected arguments preserved, got %v", args)
	}
}

func TestAssistantEmptyContentWithToolCallsHasNoTextPart(t *testing.T) {
	bc := testBuildContext()
	req := &OpenAIChatRequest{
		Model: "gemini-2.5-flash",
		Messages: []OpenAIMessage{
			{Role: "user", Content: json.RawMessage(`"hi"`)},
			{Role: "assistant", Content: json.RawMessage(`""`), ToolCalls: []OpenAIToolCall{
				{ID: "c1", Type: "function", Function: OpenAIFunctionCall{Name: "lookup", Arguments: `{"q":"x"}`}},
			}},
		},
	}
	internal := OpenAIToInternal(req, bc)
	var assistantContent model.Content
	for _, c := range internal.Request.Contents {
		if c.Role == model.RoleModel {
			assistantContent = c
		}
	}
	for _, p := range assistantContent.Parts {
		if p.Kind == model.PartText {
			t.Fatal("expected no text part for empty-content assistant message with tool_calls")
		}
	}
	hasCall := false
	for _, p := range assistantContent.Parts {
		if p.Kind == model.PartFunctionCall {
			hasCall = true
		}
	}
	if !hasCall {
		t.Fatal("expected the function call part to survive")
	}
}

func TestToolResultCoalescing(t *testing.T) {
	bc := testBuildContext()
	req := &AnthropicRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 1024,
		Messages: []AnthropicMessage{
			{Role: "assistant", Content: json.RawMessage(`[{"type":"tool_use","id":"t1","name":"a","input":{}},{"type":"tool_use","id":"t2","name":"b","input":{}}]`)},
			{Role: "user", Content: json.RawMessage(`[{"type":"tool_result","tool_use_id":"t1","content":"ra"},{"type":"tool_result","tool_use_id":"t2","content":"rb"}]`)},
		},
	}
	internal := AnthropicToInternal(req, bc)
	var toolContent *model.Content
	for i := range internal.Request.Contents {
		if internal.Request.Contents[i].Role == model.RoleUser {
			toolContent = &internal.Request.Contents[i]
		}
	}
	if toolContent == nil || len(toolContent.Parts) != 2 {
		t.Fatalf("expected two coalesced functionResponse parts in a single Content, got %+v", toolContent)
	}
}
