package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"antigravity-gateway/internal/accountpool"
	"antigravity-gateway/internal/model"
	"antigravity-gateway/internal/protocol"
	"antigravity-gateway/internal/sseresponder"
	"antigravity-gateway/internal/streamframer"
)

// handleOpenAIChat implements POST /v1/chat/completions, per §4.2/§6.
func (s *Server) handleOpenAIChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req protocol.OpenAIChatRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeGatewayError(w, errDialectOpenAI, gatewayErrFromDecode(err))
		return
	}

	acct, err := s.pool.Acquire(r.Context(), accountpool.SelectOptions{})
	if err != nil {
		writeGatewayError(w, errDialectOpenAI, err)
		return
	}

	requestID := newRequestID()
	bc := s.buildContext(acct, requestID)
	internalReq := protocol.OpenAIToInternal(&req, bc)

	newFramer := func(sessionID, modelName string) *streamframer.Framer {
		return streamframer.NewFramer(s.linePool, s.sigCache, s.toolSigCache, sessionID, modelName)
	}

	if req.Stream {
		s.streamOpenAI(w, r, acct, internalReq, req.Model, newFramer, start)
		return
	}
	s.aggregateOpenAI(w, r, acct, internalReq, req.Model, newFramer, start)
}

func (s *Server) streamOpenAI(w http.ResponseWriter, r *http.Request, acct *accountpool.Account, req *model.InternalRequest, requestedModel string, newFramer dispatcherFramerFactory, start time.Time) {
	responder, ok := sseresponder.New(w, sseresponder.DialectOpenAI)
	if !ok {
		writeGatewayError(w, errDialectOpenAI, gatewayErrStreamingUnsupported())
		return
	}
	defer responder.Close()

	renderer := protocol.NewOpenAIStreamRenderer(newRequestID(), requestedModel, acct.SessionID, req.Model, s.toolNames, req.PassSignature)
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
	s.logRequest(acct, "openai", requestedModel, req.Model, status, usage, start)
}

func (s *Server) aggregateOpenAI(w http.ResponseWriter, r *http.Request, acct *accountpool.Account, req *model.InternalRequest, requestedModel string, newFramer dispatcherFramerFactory, start time.Time) {
	result, err := s.dispatcher.Aggregate(r.Context(), acct, req, newFramer)
	s.dispatcher.Release(acct, err)
	if err != nil {
		writeGatewayError(w, errDialectOpenAI, err)
		return
	}

	usage := usageTotals{PromptTokens: result.Usage.PromptTokens, CompletionTokens: result.Usage.CompletionTokens}
	s.logRequest(acct, "openai", requestedModel, req.Model, "ok", usage, start)

	resp := protocol.RenderOpenAINonStream(newRequestID(), requestedModel, acct.SessionID, req.Model, s.toolNames, *result)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// handleOpenAIModels implements GET /v1/models, per §4.6.
func (s *Server) handleOpenAIModels(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.List(r.Context())
	data := make([]map[string]any, 0, len(names))
	for _, name := range names {
		data = append(data, map[string]any{"id": name, "object": "model", "owned_by": "antigravity"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

func gatewayErrFromDecode(err error) error {
	if err == io.EOF {
		return gatewayErrEmptyBody()
	}
	return gatewayErrBadRequest(err.Error())
}
