package protocol

import "antigravity-gateway/internal/model"

// chatTurn is the dialect-agnostic shape both OpenAI and Anthropic message
// histories are parsed into before buildHistory renders the internal
// Content tree; Gemini's history is close enough to the internal shape that
// it is translated directly instead (see gemini_in.go).
type chatTurn struct {
	role      string // user | assistant | tool
	text      string
	reasoning string // explicit reasoning content, if the dialect supplied any
	signature string // explicit thought/tool signature, if the dialect supplied one
	images    []model.InlineData
	toolCalls []toolCallTurn

	// tool-role fields
	toolCallID string
	toolName   string
	toolOutput string
}

type toolCallTurn struct {
	id   string
	name string
	args map[string]any
}

// buildHistory renders a parsed turn sequence into the internal Content
// tree per §4.2's message-history translation rules.
func buildHistory(turns []chatTurn, bc BuildContext, upstreamModel string, thinkingEnabled bool) []model.Content {
	var history []model.Content
	for _, t := range turns {
		switch t.role {
		case "user":
			history = append(history, buildUserContent(t))
		case "assistant":
			history = append(history, buildAssistantContent(t, bc, upstreamModel, thinkingEnabled))
		case "tool":
			appendToolResponse(&history, t)
		}
	}
	return history
}

func buildUserContent(t chatTurn) model.Content {
	var parts []model.Part
	// Assistant content=="" + tool_calls must carry zero text parts (§8
	// boundary behavior); mirrored here so a text-less user turn with images
	// carries only its image parts. A turn with neither text nor images
	// keeps one empty text part so the Content is never empty.
	if t.text != "" || len(t.images) == 0 {
		parts = append(parts, model.NewTextPart(t.text))
	}
	for _, img := range t.images {
		parts = append(parts, model.NewInlinePart(img.MimeType, img.Data))
	}
	return model.Content{Role: model.RoleUser, Parts: parts}
}

func buildAssistantContent(t chatTurn, bc BuildContext, upstreamModel string, thinkingEnabled bool) model.Content {
	var parts []model.Part
	if thinkingEnabled {
		sig := t.signature
		if sig == "" && bc.Signatures != nil {
			sig, _ = bc.Signatures.Get(bc.SessionID, upstreamModel)
		}
		reasoning := t.reasoning
		if reasoning == "" {
			reasoning = " "
		}
		parts = append(parts, model.NewThoughtPart(reasoning, sig))
	}
	if t.text != "" {
		parts = append(parts, model.NewTextPart(t.text))
	}
	for _, tc := range t.toolCalls {
		sig := t.signature
		if sig == "" && bc.ToolSignatures != nil {
			sig, _ = bc.ToolSignatures.Get(bc.SessionID, upstreamModel)
		}
		parts = append(parts, model.NewFunctionCallPart(tc.id, tc.name, tc.args, sig))
	}
	return model.Content{Role: model.RoleModel, Parts: parts}
}

// appendToolResponse attaches a functionResponse part, resolving the call
// name by scanning backwards through already-built model Contents, and
// coalesces a run of consecutive tool responses into one user Content
// rather than one per response (§4.2, §9 coalescing note).
func appendToolResponse(history *[]model.Content, t chatTurn) {
	name := t.toolName
	if name == "" {
		name = resolveToolName(*history, t.toolCallID)
	}
	part := model.NewFunctionResponsePart(t.toolCallID, name, t.toolOutput)

	if n := len(*history); n > 0 && isToolResponseOnly((*history)[n-1]) {
		(*history)[n-1].Parts = append((*history)[n-1].Parts, part)
		return
	}
	*history = append(*history, model.Content{Role: model.RoleUser, Parts: []model.Part{part}})
}

func isToolResponseOnly(c model.Content) bool {
	if len(c.Parts) == 0 || c.Role != model.RoleUser {
		return false
	}
	for _, p := range c.Parts {
		if p.Kind != model.PartFunctionResponse {
			return false
		}
	}
	return true
}

func resolveToolName(history []model.Content, id string) string {
	for i := len(history) - 1; i >= 0; i-- {
		for _, p := range history[i].Parts {
			if p.Kind == model.PartFunctionCall && p.Call != nil && p.Call.ID == id {
				return p.Call.Name
			}
		}
	}
	return ""
}
