package server

import (
	"encoding/json"
	"net/http"
	"time"

	"antigravity-gateway/internal/accountpool"
	"antigravity-gateway/internal/model"
	"antigravity-gateway/internal/protocol"
	"antigravity-gateway/internal/sseresponder"
	"antigravity-gateway/internal/streamframer"
)

// handleAnthropicMessages implements POST /v1/messages, per §4.2/§6.
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req protocol.AnthropicRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeGatewayError(w, errDialectAnthropic, gatewayErrFromDecode(err))
		return
	}

	acct, err := s.pool.Acquire(r.Context(), accountpool.SelectOptions{})
	if err != nil {
		writeGatewayError(w, errDialectAnthropic, err)
		return
	}

	requestID := newRequestID()
	bc := s.buildContext(acct, requestID)
	internalReq := protocol.AnthropicToInternal(&req, bc)

	newFramer := func(sessionID, modelName string) *streamframer.Framer {
		return streamframer.NewFramer(s.linePool, s.sigCache, s.toolSigCache, sessionID, modelName)
	}

	if req.Stream {
		s.streamAnthropic(w, r, acct, internalReq, req.Model, newFramer, start)
		return
	}
	s.aggregateAnthropic(w, r, acct, internalReq, req.Model, newFramer, start)
}

func (s *Server) streamAnthropic(w http.ResponseWriter, r *http.Request, acct *accountpool.Account, req *model.InternalRequest, requestedModel string, newFramer dispatcherFramerFactory, start time.Time) {
	responder, ok := sseresponder.New(w, sseresponder.DialectAnthropic)
	if !ok {
		writeGatewayError(w, errDialectAnthropic, gatewayErrStreamingUnsupported())
		return
	}
	defer responder.Close()

	renderer := protocol.NewAnthropicStreamRenderer(newRequestID(), requestedModel, acct.SessionID, req.Model, s.toolNames, req.PassSignature)
	responder.WriteFrame(renderer.Start())

	var usage usageTotals
	emit := func(e model.Event) {
		if e.Kind == model.EventUsage {
			usage.PromptTokens = e.Usage.PromptTokens
			usage.CompletionTokens = e.Usage.CompletionTokens
		}
		for _, frame := range renderer.Render(e) {
			responder.WriteFrame(frame)
		}
	}

	runErr := s.dispatcher.Stream(r.Context(), acct, req, newFramer, emit)
	s.dispatcher.Release(acct, runErr)
	responder.Finish()

	status := "ok"
	if runErr != nil {
		status = "error"
	}
	s.logRequest(acct, "anthropic", requestedModel, req.Model, status, usage, start)
}

func (s *Server) aggregateAnthropic(w http.ResponseWriter, r *http.Request, acct *accountpool.Account, req *model.InternalRequest, requestedModel string, newFramer dispatcherFramerFactory, start time.Time) {
	result, err := s.dispatcher.Aggregate(r.Context(), acct, req, newFramer)
	s.dispatcher.Release(acct, err)
	if err != nil {
		writeGatewayError(w, errDialectAnthropic, err)
		return
	}

	usage := usageTotals{PromptTokens: result.Usage.PromptTokens, CompletionTokens: result.Usage.CompletionTokens}
	s.logRequest(acct, "anthropic", requestedModel, req.Model, "ok", usage, start)

	resp := protocol.RenderAnthropicNonStream(newRequestID(), requestedModel, acct.SessionID, req.Model, s.toolNames, req.PassSignature, *result)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
