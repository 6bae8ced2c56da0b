// Package streamframer splits an upstream byte stream into SSE records
// (spec §4.3) and turns each "data: " JSON payload into a typed internal
// event. Grounded on the teacher's relay/stream.go SSEScanner, generalized
// from raw-line passthrough into structured event emission with pooled
// line buffers.
package streamframer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/model"
	"antigravity-gateway/internal/pressure"
)

const (
	initialLineCap = 64 * 1024
	maxLineSize    = 4 * 1024 * 1024
)

// Framer decodes one upstream stream into a sequence of model.Event,
// delivered to a callback in byte-arrival order (§5 ordering guarantee).
// Reasoning and tool-call signatures are written to two distinct caches
// (spec §3's Signature Entry: "two caches: reasoning, tool") so a later
// turn's fallback lookup can't cross-contaminate one kind with the other.
type Framer struct {
	linePool     *pressure.Pool[[]byte]
	sigCache     *cache.SignatureCache
	toolSigCache *cache.SignatureCache

	sessionID string
	model     string

	pendingToolCalls []model.ToolCallEvent
}

func NewFramer(linePool *pressure.Pool[[]byte], sigCache, toolSigCache *cache.SignatureCache, sessionID, modelName string) *Framer {
	return &Framer{linePool: linePool, sigCache: sigCache, toolSigCache: toolSigCache, sessionID: sessionID, model: modelName}
}

// Run reads r until EOF or ctx-driven cancellation (the caller is
// responsible for wrapping r so a closed client aborts the read, per §4.4),
// decoding each "data: " line and invoking emit for every event produced.
// The line-buffer object is returned to the pool on every exit path.
func (f *Framer) Run(r io.Reader, emit func(model.Event)) error {
	buf := f.linePool.Get()
	defer f.linePool.Put(buf[:0])

	scanner := bufio.NewScanner(r)
	scanner.Buffer(buf[:cap(buf)], maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue // comments/blank lines discarded, per §4.3
		}
		payload := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		if err := f.decode(payload, emit); err != nil {
			continue // a malformed record is skipped, not fatal to the stream
		}
	}
	return scanner.Err()
}

// DecodeRecord decodes a single "data: "-stripped JSON payload, for callers
// (the non-streaming Dispatcher path) that already have one complete record
// rather than a byte stream to scan.
func (f *Framer) DecodeRecord(payload []byte, emit func(model.Event)) error {
	return f.decode(payload, emit)
}

func (f *Framer) decode(payload []byte, emit func(model.Event)) error {
	var wp wirePayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		return err
	}
	if len(wp.Candidates) == 0 {
		return nil
	}
	cand := wp.Candidates[0]

	for _, part := range cand.Content.Parts {
		switch {
		case part.Thought:
			text := ""
			if part.Text != nil {
				text = *part.Text
			}
			if part.ThoughtSig != "" {
				f.sigCache.Set(f.sessionID, f.model, part.ThoughtSig)
			}
			emit(model.Event{Kind: model.EventReasoning, Text: text, ThoughtSig: part.ThoughtSig})
		case part.FunctionCall != nil:
			sig := part.ThoughtSig
			if sig != "" {
				f.toolSigCache.Set(f.sessionID, f.model, sig)
			}
			f.pendingToolCalls = append(f.pendingToolCalls, model.ToolCallEvent{
				Index: len(f.pendingToolCalls),
				ID:    part.FunctionCall.ID,
				Name:  part.FunctionCall.Name,
				Args:  part.FunctionCall.Args,
				Sig:   sig,
			})
		case part.Text != nil:
			// Presence is checked via the pointer, not truthiness: an
			// empty string is still a text delta (§4.3).
			emit(model.Event{Kind: model.EventText, Text: *part.Text})
		}
	}

	if cand.FinishReason != "" {
		if len(f.pendingToolCalls) > 0 {
			emit(model.Event{Kind: model.EventToolCalls, ToolCalls: f.pendingToolCalls})
			f.pendingToolCalls = nil
		}
		emit(model.Event{
			Kind: model.EventUsage,
			Usage: model.Usage{
				PromptTokens:     wp.UsageMetadata.PromptTokenCount,
				CompletionTokens: wp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      wp.UsageMetadata.TotalTokenCount,
			},
			FinishReason: cand.FinishReason,
		})
	}
	return nil
}
