package protocol

import (
	"encoding/json"
	"strings"

	"antigravity-gateway/internal/model"
)

// OpenAIToInternal is the inbound adapter for the OpenAI chat dialect
// (§4.2). It is a pure function of (request, build context) -> InternalRequest.
func OpenAIToInternal(req *OpenAIChatRequest, bc BuildContext) *model.InternalRequest {
	upstreamModel := MapModel(req.Model)
	thinkingEnabled := ThinkingEnabledForModel(req.Model)

	var systemText strings.Builder
	inLeadingSystemRun := true
	var turns []chatTurn
	toolCallNames := map[string]string{}

	for _, m := range req.Messages {
		if m.Role == "system" && inLeadingSystemRun {
			if systemText.Len() > 0 {
				systemText.WriteString("\n\n")
			}
			systemText.WriteString(decodeOpenAIText(m.Content))
			continue
		}
		inLeadingSystemRun = false

		switch m.Role {
		case "user":
			text, images := decodeOpenAIUserContent(m.Content)
			turns = append(turns, chatTurn{role: "user", text: text, images: images})
		case "assistant":
			var calls []toolCallTurn
			for _, tc := range m.ToolCalls {
				toolCallNames[tc.ID] = tc.Function.Name
				calls = append(calls, toolCallTurn{id: tc.ID, name: tc.Function.Name, args: parseJSONArguments(tc.Function.Arguments)})
			}
			turns = append(turns, chatTurn{role: "assistant", text: decodeOpenAIText(m.Content), toolCalls: calls})
		case "tool":
			turns = append(turns, chatTurn{
				role:       "tool",
				toolCallID: m.ToolCallID,
				toolName:   toolCallNames[m.ToolCallID],
				toolOutput: decodeOpenAIText(m.Content),
			})
		}
	}

	history := buildHistory(turns, bc, upstreamModel, thinkingEnabled)
	sysInstruction := mergeSystemInstruction(bc, systemText.String())

	params := NormalizeOpenAI(req, bc.Defaults)
	if thinkingEnabled && !params.HasThinking {
		params.ThinkingBudget = bc.Defaults.ThinkingBudget
		params.HasThinking = true
	}

	return &model.InternalRequest{
		Project:       bc.Project,
		RequestID:     bc.RequestID,
		Model:         upstreamModel,
		UserAgent:     "antigravity",
		Stream:        req.Stream,
		PassSignature: bc.PassSignatureToClient,
		Request: model.InternalRequestBody{
			Contents:          history,
			Tools:             buildOpenAITools(bc, upstreamModel, req.Tools),
			GenerationConfig:  BuildGenerationConfig(params, upstreamModel),
			SessionID:         bc.SessionID,
			SystemInstruction: sysInstruction,
		},
	}
}

// decodeOpenAIText reads a message's content field, which may be a plain
// JSON string or an array of {type:"text",...}/{type:"image_url",...} parts.
func decodeOpenAIText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// decodeOpenAIUserContent additionally extracts inline base64 images from a
// multi-part content array.
func decodeOpenAIUserContent(raw json.RawMessage) (string, []model.InlineData) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil
	}
	var b strings.Builder
	var images []model.InlineData
	for _, p := range parts {
		switch p.Type {
		case "text":
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		case "image_url":
			if mime, data, ok := parseDataURL(p.ImageURL.URL); ok {
				images = append(images, model.InlineData{MimeType: mime, Data: data})
			}
		}
	}
	return b.String(), images
}
