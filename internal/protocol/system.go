package protocol

import (
	"strings"

	"antigravity-gateway/internal/model"
)

// mergeSystemInstruction concatenates the configured default system text
// with the request's leading system content per §4.2. When
// UseContextSystemPrompt is false, the client-supplied text is dropped and
// only the configured default (if any) survives.
func mergeSystemInstruction(bc BuildContext, requestSystem string) *model.SystemInstruction {
	var pieces []string
	if bc.ConfiguredSystemInstruction != "" {
		pieces = append(pieces, bc.ConfiguredSystemInstruction)
	}
	if bc.UseContextSystemPrompt && requestSystem != "" {
		pieces = append(pieces, requestSystem)
	}
	if len(pieces) == 0 {
		return nil
	}
	return &model.SystemInstruction{Parts: []model.Part{model.NewTextPart(strings.Join(pieces, "\n\n"))}}
}
