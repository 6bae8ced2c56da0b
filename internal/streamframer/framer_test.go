package streamframer

import (
	"strings"
	"testing"

	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/model"
	"antigravity-gateway/internal/pressure"
)

func newTestFramer() *Framer {
	src := pressure.NewSource()
	pool := pressure.NewPool(src, pressure.LineBufferCaps, func() []byte { return make([]byte, 0, 1024) })
	sigCache := cache.NewSignatureCache(src)
	toolSigCache := cache.NewSignatureCache(src)
	return NewFramer(pool, sigCache, toolSigCache, "sess1", "gemini-2.5-flash")
}

func TestFramerEmitsTextEvents(t *testing.T) {
	f := newTestFramer()
	stream := `data: {"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}
data: {"candidates":[{"content":{"parts":[{"text":" world"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}
`
	var events []model.Event
	if err := f.Run(strings.NewReader(stream), func(e model.Event) { events = append(events, e) }); err != nil {
		t.Fatalf("run: %v", err)
	}

	var text string
	var sawUsage bool
	for _, e := range events {
		if e.Kind == model.EventText {
			text += e.Text
		}
		if e.Kind == model.EventUsage {
			sawUsage = true
			if e.Usage.TotalTokens != 5 {
				t.Fatalf("expected total tokens 5, got %d", e.Usage.TotalTokens)
			}
		}
	}
	if text != "Hello world" {
		t.Fatalf("expected concatenated text %q, got %q", "Hello world", text)
	}
	if !sawUsage {
		t.Fatal("expected a usage event at finish")
	}
}

func TestFramerEmitsEmptyTextDelta(t *testing.T) {
	f := newTestFramer()
	stream := `data: {"candidates":[{"content":{"parts":[{"text":""}]}}]}
`
	var sawText bool
	if err := f.Run(strings.NewReader(stream), func(e model.Event) {
		if e.Kind == model.EventText {
			sawText = true
		}
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !sawText {
		t.Fatal("empty string text part must still be emitted as a text event")
	}
}

func TestFramerBuffersToolCallsUntilFinish(t *testing.T) {
	f := newTestFramer()
	stream := `data: {"candidates":[{"content":{"parts":[{"functionCall":{"id":"c1","name":"get_weather","args":{"city":"Beijing"}}}]}}]}
data: {"candidates":[{"content":{"parts":[]},"finishReason":"STOP"}]}
`
	var toolEvents int
	var sawBeforeFinish bool
	finished := false
	emit := func(e model.Event) {
		if e.Kind == model.EventToolCalls {
			toolEvents++
			if !finished {
				sawBeforeFinish = true
			}
		}
	}
	// Feed the records one at a time so "before finish" means "while the
	// record without finishReason is being decoded"; at finish the flushed
	// tool_calls event precedes that record's usage event.
	records := strings.SplitAfter(stream, "\n")
	if err := f.Run(strings.NewReader(records[0]), emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	finished = true
	if err := f.Run(strings.NewReader(records[1]), emit); err != nil {
		t.Fatalf("run: %v", err)
	}
	if toolEvents != 1 {
		t.Fatalf("expected exactly one flushed tool_calls event, got %d", toolEvents)
	}
	if sawBeforeFinish {
		t.Fatal("tool calls must be flushed at finishReason, not before")
	}
}

func TestFramerCachesThoughtSignature(t *testing.T) {
	f := newTestFramer()
	stream := `data: {"candidates":[{"content":{"parts":[{"text":"thinking...","thought":true,"thoughtSignature":"sig-xyz"}]}}]}
`
	if err := f.Run(strings.NewReader(stream), func(e model.Event) {}); err != nil {
		t.Fatalf("run: %v", err)
	}
	sig, ok := f.sigCache.Get("sess1", "gemini-2.5-flash")
	if !ok || sig != "sig-xyz" {
		t.Fatalf("expected cached signature sig-xyz, got %q ok=%v", sig, ok)
	}
}
