package protocol

import (
	"encoding/json"
	"strings"

	"antigravity-gateway/internal/model"
)

// AnthropicToInternal is the inbound adapter for the Anthropic messages
// dialect (§4.2). Shape-wise it follows the same turn translation as
// OpenAIToInternal; the dialect-specific work is decoding Anthropic's
// content-block arrays.
func AnthropicToInternal(req *AnthropicRequest, bc BuildContext) *model.InternalRequest {
	upstreamModel := MapModel(req.Model)
	thinkingEnabled := ThinkingEnabledForModel(req.Model)

	systemText := decodeAnthropicSystem(req.System)

	var turns []chatTurn

	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			turns = append(turns, decodeAnthropicUserTurns(m.Content)...)
		case "assistant":
			turn, _ := decodeAnthropicAssistantTurn(m.Content)
			turns = append(turns, turn)
		}
	}

	history := buildHistory(turns, bc, upstreamModel, thinkingEnabled)
	sysInstruction := mergeSystemInstruction(bc, systemText)

	params := NormalizeAnthropic(req, bc.Defaults)
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
			Tools:             buildAnthropicTools(bc, upstreamModel, req.Tools),
			GenerationConfig:  BuildGenerationConfig(params, upstreamModel),
			SessionID:         bc.SessionID,
			SystemInstruction: sysInstruction,
		},
	}
}

func decodeAnthropicSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func decodeAnthropicBlocks(raw json.RawMessage) []anthropicContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []anthropicContentBlock{{Type: "text", Text: s}}
	}
	var blocks []anthropicContentBlock
	_ = json.Unmarshal(raw, &blocks)
	return blocks
}

// decodeAnthropicUserTurns splits one user message's content blocks into a
// user turn (text + images) and any tool_result turns, preserving relative
// order; consecutive tool_result blocks become consecutive "tool" chatTurns
// so buildHistory's coalescing merges them into one Content.
func decodeAnthropicUserTurns(raw json.RawMessage) []chatTurn {
	blocks := decodeAnthropicBlocks(raw)
	var turns []chatTurn
	var text strings.Builder
	var images []model.InlineData

	flush := func() {
		if text.Len() > 0 || len(images) > 0 {
			turns = append(turns, chatTurn{role: "user", text: text.String(), images: images})
			text.Reset()
			images = nil
		}
	}

	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(blk.Text)
		case "image":
			if blk.Source != nil && blk.Source.Type == "base64" {
				images = append(images, model.InlineData{MimeType: canonicalImageMIME(blk.Source.MediaType), Data: blk.Source.Data})
			}
		case "tool_result":
			flush()
			turns = append(turns, chatTurn{role: "tool", toolCallID: blk.ToolUseID, toolOutput: decodeAnthropicToolResultText(blk.Content)})
		}
	}
	flush()
	return turns
}

func decodeAnthropicToolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	blocks := decodeAnthropicBlocks(raw)
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func decodeAnthropicAssistantTurn(raw json.RawMessage) (chatTurn, []toolCallTurn) {
	blocks := decodeAnthropicBlocks(raw)
	turn := chatTurn{role: "assistant"}
	var text strings.Builder
	var calls []toolCallTurn
	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(blk.Text)
		case "thinking":
			turn.reasoning = blk.Thinking
			turn.signature = blk.Signature
		case "tool_use":
			calls = append(calls, toolCallTurn{id: blk.ID, name: blk.Name, args: blk.Input})
		}
	}
	turn.text = text.String()
	turn.toolCalls = calls
	return turn, calls
}
