// Package model holds the internal "Antigravity" protocol's data shapes:
// the Content/Part tagged-variant tree, request/generation config, and the
// normalized parameter set every inbound dialect is translated into.
package model

// Role is the speaker of a Content block in the internal protocol.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// PartKind tags which of the six shapes a Part holds; the New*Part
// constructors below set it together with the matching payload field. The
// tag does not by itself enforce the data-model invariants (at most one
// thought part, functionResponse only under user content, ...); the
// builders in protocol/ maintain those.
type PartKind int

const (
	PartText PartKind = iota
	PartThought
	PartThoughtSignature
	PartInlineData
	PartFunctionCall
	PartFunctionResponse
)

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type FunctionResponseBody struct {
	Output string `json:"output"`
}

type FunctionResponse struct {
	ID       string               `json:"id,omitempty"`
	Name     string               `json:"name"`
	Response FunctionResponseBody `json:"response"`
}

// Part is the tagged union described in data model §3. Exactly one of the
// payload fields is meaningful, selected by Kind; ThoughtSignature may be
// attached to a Thought or FunctionCall part in addition to its own fields.
type Part struct {
	Kind PartKind

	Text            string
	Thought         bool
	ThoughtSig      string
	Inline          *InlineData
	Call            *FunctionCall
	Response        *FunctionResponse
}

func NewTextPart(text string) Part { return Part{Kind: PartText, Text: text} }

func NewThoughtPart(text, signature string) Part {
	return Part{Kind: PartThought, Text: text, Thought: true, ThoughtSig: signature}
}

func NewInlinePart(mimeType, data string) Part {
	return Part{Kind: PartInlineData, Inline: &InlineData{MimeType: mimeType, Data: data}}
}

func NewFunctionCallPart(id, name string, args map[string]any, signature string) Part {
	return Part{Kind: PartFunctionCall, Call: &FunctionCall{ID: id, Name: name, Args: args}, ThoughtSig: signature}
}

func NewFunctionResponsePart(id, name, output string) Part {
	return Part{Kind: PartFunctionResponse, Response: &FunctionResponse{ID: id, Name: name, Response: FunctionResponseBody{Output: output}}}
}

// HasThoughtSignature reports whether this part carries a signature worth
// caching or replaying (thought or tool-call parts only).
func (p Part) HasThoughtSignature() bool {
	return p.ThoughtSig != "" && (p.Kind == PartThought || p.Kind == PartFunctionCall)
}

// Content is one turn in the translated history: a role plus an ordered
// run of parts. Invariants (enforced by the builders in protocol/, not
// here): a model Content carries at most one thought part, first; a
// functionResponse part only ever appears under a user Content.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Tool describes one callable function exposed to the upstream model,
// after the name-sanitization and schema-cleaning pass described in §4.2.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolConfig struct {
	Mode string `json:"mode,omitempty"` // AUTO | ANY | NONE
}

type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

// GenerationConfig is the internal rendering of NormalizedParameters, per
// §3. TopP is omitted (zero value + OmitTopP flag) for Claude-family models
// with thinking enabled, since the upstream rejects it in that combination.
type GenerationConfig struct {
	TopP            float64        `json:"topP,omitempty"`
	OmitTopP        bool           `json:"-"`
	TopK            int            `json:"topK,omitempty"`
	Temperature     float64        `json:"temperature"`
	CandidateCount  int            `json:"candidateCount"`
	MaxOutputTokens int            `json:"maxOutputTokens"`
	ThinkingConfig  ThinkingConfig `json:"thinkingConfig"`
}

type SystemInstruction struct {
	Parts []Part `json:"parts"`
}

// InternalRequestBody is the "request" field of InternalRequest.
type InternalRequestBody struct {
	Contents          []Content          `json:"contents"`
	Tools             []Tool             `json:"tools,omitempty"`
	ToolConfig        *ToolConfig        `json:"toolConfig,omitempty"`
	GenerationConfig  GenerationConfig   `json:"generationConfig"`
	SessionID         string             `json:"sessionId"`
	SystemInstruction *SystemInstruction `json:"systemInstruction,omitempty"`
}

// InternalRequest is the single wire shape every inbound dialect is
// translated into before dispatch, per data model §3.
type InternalRequest struct {
	Project   string               `json:"project"`
	RequestID string               `json:"requestId"`
	Model     string               `json:"model"`
	UserAgent string               `json:"userAgent"`
	Request   InternalRequestBody  `json:"request"`

	// Streaming and signature-passthrough are call-scoped flags, not part
	// of the wire body, but travel with the request through the dispatcher.
	Stream             bool `json:"-"`
	PassSignature      bool `json:"-"`
}

// NormalizedParameters is the dialect-agnostic parameter set every inbound
// adapter produces before GenerationConfig is built (§3, §4.2).
type NormalizedParameters struct {
	MaxTokens      int
	Temperature    float64
	TopP           float64
	TopK           int
	ThinkingBudget int
	HasThinking    bool // true if ThinkingBudget was set (including to 0, force-disabled)
}
