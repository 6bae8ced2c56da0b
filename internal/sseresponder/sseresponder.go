// Package sseresponder writes Server-Sent Events frames to an
// http.ResponseWriter for the three outbound dialects (spec §4.5), grounded
// on the teacher's relay.go streamResponse header setup and flush-on-blank-
// line loop, generalized from raw line passthrough into per-dialect JSON
// frame writes plus a heartbeat ticker.
package sseresponder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Dialect identifies which outbound stream-termination convention to use.
type Dialect int

const (
	DialectOpenAI Dialect = iota
	DialectAnthropic
	DialectGemini
)

const defaultHeartbeatInterval = 15 * time.Second

// Responder writes one client-facing SSE stream. It owns the heartbeat
// timer for the lifetime of the call and guarantees the timer is stopped on
// every exit path (Close must be deferred by the caller).
type Responder struct {
	w                 http.ResponseWriter
	flusher           http.Flusher
	dialect           Dialect
	heartbeatInterval time.Duration
	stopHeartbeat     chan struct{}
	done              chan struct{}

	// writeMu serializes writes to w: the heartbeat goroutine and the
	// request goroutine's WriteFrame/WriteRaw calls both write to the same
	// ResponseWriter, which is not safe for concurrent use.
	writeMu sync.Mutex
}

// New sets the streaming response headers and starts the heartbeat, per
// §4.5. ok is false when the underlying ResponseWriter doesn't support
// flushing, in which case the caller must fall back to a non-streaming
// error response.
func New(w http.ResponseWriter, dialect Dialect) (*Responder, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx/proxy response buffering
	w.WriteHeader(http.StatusOK)

	r := &Responder{
		w:                 w,
		flusher:           flusher,
		dialect:           dialect,
		heartbeatInterval: defaultHeartbeatInterval,
		stopHeartbeat:     make(chan struct{}),
		done:              make(chan struct{}),
	}
	go r.runHeartbeat()
	return r, true
}

func (r *Responder) runHeartbeat() {
	defer close(r.done)
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.writeMu.Lock()
			fmt.Fprint(r.w, ": heartbeat\n\n")
			r.flusher.Flush()
			r.writeMu.Unlock()
		case <-r.stopHeartbeat:
			return
		}
	}
}

// WriteFrame marshals payload and writes one "data: <json>\n\n" SSE record.
func (r *Responder) WriteFrame(payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := fmt.Fprintf(r.w, "data: %s\n\n", body); err != nil {
		return err
	}
	r.flusher.Flush()
	return nil
}

// WriteRaw writes a pre-built "data: ..." record verbatim (used for the
// terminal OpenAI [DONE] sentinel; Anthropic's message_stop goes through
// WriteFrame like every other rendered event).
func (r *Responder) WriteRaw(line string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := fmt.Fprint(r.w, line); err != nil {
		return err
	}
	r.flusher.Flush()
	return nil
}

// Finish writes the dialect-specific terminal record, per §4.5: OpenAI gets
// a literal [DONE] sentinel, Anthropic a message_stop event (already framed
// by the caller via WriteFrame during Render), Gemini simply closes.
func (r *Responder) Finish() {
	switch r.dialect {
	case DialectOpenAI:
		r.WriteRaw("data: [DONE]\n\n")
	case DialectAnthropic, DialectGemini:
		// Terminal record, if any, is already emitted by the protocol
		// renderer's own event sequence; nothing further to write.
	}
}

// Close stops the heartbeat goroutine and waits for it to exit. Must be
// deferred immediately after a successful New call.
func (r *Responder) Close() {
	close(r.stopHeartbeat)
	<-r.done
}
