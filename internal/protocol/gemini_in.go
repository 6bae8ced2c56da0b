package protocol

import "antigravity-gateway/internal/model"

// GeminiToInternal is the inbound adapter for the Gemini generateContent
// dialect. Gemini's wire shape is already close to the internal protocol,
// so this adapter is largely identity plus the fix-ups described in §4.2:
// model mapping/thinking detection, tool sanitization, and system-prompt
// merging.
func GeminiToInternal(req *GeminiRequest, requestedModel string, stream bool, bc BuildContext) *model.InternalRequest {
	upstreamModel := MapModel(requestedModel)
	thinkingEnabled := ThinkingEnabledForModel(requestedModel)

	history := make([]model.Content, 0, len(req.Contents))
	for _, c := range req.Contents {
		role := model.RoleUser
		if c.Role == "model" {
			role = model.RoleModel
		}
		parts := make([]model.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			parts = append(parts, geminiPartToInternal(p))
		}
		history = append(history, model.Content{Role: role, Parts: parts})
	}

	existingSystem := ""
	if req.SystemInstruction != nil {
		for _, p := range req.SystemInstruction.Parts {
			if p.Text != nil {
				existingSystem += *p.Text
			}
		}
	}
	sysInstruction := mergeSystemInstruction(bc, existingSystem)

	params := NormalizeGemini(req, bc.Defaults)
	if thinkingEnabled && !params.HasThinking {
		params.ThinkingBudget = bc.Defaults.ThinkingBudget
		params.HasThinking = true
	}

	return &model.InternalRequest{
		Project:       bc.Project,
		RequestID:     bc.RequestID,
		Model:         upstreamModel,
		UserAgent:     "antigravity",
		Stream:        stream,
		PassSignature: bc.PassSignatureToClient,
		Request: model.InternalRequestBody{
			Contents:          history,
			Tools:             buildGeminiTools(bc, upstreamModel, req.Tools),
			GenerationConfig:  BuildGenerationConfig(params, upstreamModel),
			SessionID:         bc.SessionID,
			SystemInstruction: sysInstruction,
		},
	}
}

func geminiPartToInternal(p geminiPart) model.Part {
	switch {
	case p.Thought:
		text := ""
		if p.Text != nil {
			text = *p.Text
		}
		return model.NewThoughtPart(text, p.ThoughtSignature)
	case p.InlineData != nil:
		return model.NewInlinePart(p.InlineData.MimeType, p.InlineData.Data)
	case p.FunctionCall != nil:
		return model.NewFunctionCallPart(p.FunctionCall.ID, p.FunctionCall.Name, p.FunctionCall.Args, p.ThoughtSignature)
	case p.FunctionResponse != nil:
		return model.NewFunctionResponsePart(p.FunctionResponse.ID, p.FunctionResponse.Name, p.FunctionResponse.Response.Output)
	case p.Text != nil:
		return model.NewTextPart(*p.Text)
	default:
		return model.NewTextPart("")
	}
}
