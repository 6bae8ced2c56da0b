package protocol

import "antigravity-gateway/internal/model"

// buildTool sanitizes a tool name and schema and records the
// original-name mapping in bc.ToolNames, per §4.2/§8.
func buildTool(bc BuildContext, upstreamModel, name, description string, parameters map[string]any) model.Tool {
	sanitized := name
	if bc.ToolNames != nil {
		sanitized = bc.ToolNames.Sanitize(bc.SessionID, upstreamModel, name)
	}
	return model.Tool{
		Name:        sanitized,
		Description: description,
		Parameters:  SanitizeSchema(parameters),
	}
}

func buildOpenAITools(bc BuildContext, upstreamModel string, tools []OpenAITool) []model.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]model.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, buildTool(bc, upstreamModel, t.Function.Name, t.Function.Description, t.Function.Parameters))
	}
	return out
}

func buildAnthropicTools(bc BuildContext, upstreamModel string, tools []AnthropicTool) []model.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]model.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, buildTool(bc, upstreamModel, t.Name, t.Description, t.InputSchema))
	}
	return out
}

func buildGeminiTools(bc BuildContext, upstreamModel string, tools []geminiTool) []model.Tool {
	var out []model.Tool
	for _, t := range tools {
		for _, fd := range t.FunctionDeclarations {
			out = append(out, buildTool(bc, upstreamModel, fd.Name, fd.Description, fd.Parameters))
		}
	}
	return out
}

// originalToolName resolves a sanitized tool name back to the name the
// client originally sent, for outbound rendering (§8).
func originalToolName(bc BuildContext, upstreamModel, sanitized string) string {
	if bc.ToolNames == nil {
		return sanitized
	}
	if original, ok := bc.ToolNames.Original(bc.SessionID, upstreamModel, sanitized); ok {
		return original
	}
	return sanitized
}
