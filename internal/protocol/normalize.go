package protocol

import (
	"encoding/json"

	"antigravity-gateway/internal/model"
)

// applyDefaults fills any NormalizedParameters field left at its zero value
// from the process-wide defaults, per §4.2 "missing fields fill from
// process-wide defaults".
func applyDefaults(p model.NormalizedParameters, d Defaults) model.NormalizedParameters {
	if p.MaxTokens == 0 {
		p.MaxTokens = d.MaxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = d.Temperature
	}
	if p.TopP == 0 {
		p.TopP = d.TopP
	}
	if p.TopK == 0 {
		p.TopK = d.TopK
	}
	if !p.HasThinking && d.ThinkingBudget != 0 {
		p.ThinkingBudget = d.ThinkingBudget
		p.HasThinking = true
	}
	return p
}

// NormalizeOpenAI maps an OpenAI chat request's parameters per §4.2: direct
// fields take priority, then the thinking_budget extension, then
// reasoning_effort's fixed budget table.
func NormalizeOpenAI(req *OpenAIChatRequest, d Defaults) model.NormalizedParameters {
	p := model.NormalizedParameters{MaxTokens: req.MaxTokens, TopK: req.TopK}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		p.TopP = *req.TopP
	}
	switch {
	case req.ThinkingBudget != nil:
		p.ThinkingBudget = *req.ThinkingBudget
		p.HasThinking = true
	case req.ReasoningEffort != "":
		if budget, ok := ReasoningEffortBudget(req.ReasoningEffort); ok {
			p.ThinkingBudget = budget
			p.HasThinking = true
		}
	}
	return applyDefaults(p, d)
}

// NormalizeAnthropic mirrors NormalizeOpenAI, substituting the thinking{}
// block for the extension field: type=="enabled" carries budget_tokens,
// type=="disabled" force-sets the budget to zero.
func NormalizeAnthropic(req *AnthropicRequest, d Defaults) model.NormalizedParameters {
	p := model.NormalizedParameters{MaxTokens: req.MaxTokens, TopK: req.TopK}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		p.TopP = *req.TopP
	}
	if req.Thinking != nil {
		switch req.Thinking.Type {
		case "enabled":
			p.ThinkingBudget = req.Thinking.BudgetTokens
			p.HasThinking = true
		case "disabled":
			p.ThinkingBudget = 0
			p.HasThinking = true
		}
	}
	return applyDefaults(p, d)
}

// NormalizeGemini extracts generationConfig, renaming camelCase to the
// normalized snake_case fields. thinkingConfig.includeThoughts==false forces
// the budget to zero even if thinkingBudget was also supplied.
func NormalizeGemini(req *GeminiRequest, d Defaults) model.NormalizedParameters {
	var p model.NormalizedParameters
	if gc := req.GenerationConfig; gc != nil {
		if gc.Temperature != nil {
			p.Temperature = *gc.Temperature
		}
		if gc.TopP != nil {
			p.TopP = *gc.TopP
		}
		if gc.TopK != nil {
			p.TopK = *gc.TopK
		}
		if gc.MaxOutputTokens != nil {
			p.MaxTokens = *gc.MaxOutputTokens
		}
		if tc := gc.ThinkingConfig; tc != nil {
			if tc.ThinkingBudget != nil {
				p.ThinkingBudget = *tc.ThinkingBudget
				p.HasThinking = true
			}
			if tc.IncludeThoughts != nil && !*tc.IncludeThoughts {
				p.ThinkingBudget = 0
				p.HasThinking = true
			}
		}
	}
	return applyDefaults(p, d)
}

// BuildGenerationConfig renders NormalizedParameters into the internal
// GenerationConfig, omitting topP for Claude-family models with thinking
// enabled per §3.
func BuildGenerationConfig(p model.NormalizedParameters, upstreamModel string) model.GenerationConfig {
	gc := model.GenerationConfig{
		TopP:            p.TopP,
		TopK:            p.TopK,
		Temperature:     p.Temperature,
		CandidateCount:  1,
		MaxOutputTokens: p.MaxTokens,
		ThinkingConfig: model.ThinkingConfig{
			IncludeThoughts: p.HasThinking && p.ThinkingBudget > 0,
			ThinkingBudget:  p.ThinkingBudget,
		},
	}
	if IsClaudeFamily(upstreamModel) && p.HasThinking && p.ThinkingBudget > 0 {
		gc.OmitTopP = true
		gc.TopP = 0
	}
	return gc
}

// parseJSONArguments decodes an OpenAI tool-call's arguments string into the
// args object the upstream expects; an unparseable string is wrapped as
// {"query": rawString} per §4.2.
func parseJSONArguments(raw string) map[string]any {
	var args map[string]any
	if raw == "" {
		return map[string]any{}
	}
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	return map[string]any{"query": raw}
}
