package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"antigravity-gateway/internal/accountpool"
	"antigravity-gateway/internal/model"
	"antigravity-gateway/internal/protocol"
	"antigravity-gateway/internal/sseresponder"
	"antigravity-gateway/internal/streamframer"
)

// handleGeminiDispatch implements POST /v1beta/models/{model}:generateContent
// and /v1beta/models/{model}:streamGenerateContent, per §4.2/§6. The method
// is encoded in the path segment after a colon, per the Gemini wire
// convention; ?alt=sse selects streaming on the unary generateContent verb.
func (s *Server) handleGeminiDispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	modelAndMethod := r.PathValue("model")
	modelName, method, found := strings.Cut(modelAndMethod, ":")
	if !found {
		writeGatewayError(w, errDialectGemini, gatewayErrBadRequest("missing :method suffix"))
		return
	}

	var stream bool
	switch method {
	case "streamGenerateContent":
		stream = true
	case "generateContent":
		stream = r.URL.Query().Get("alt") == "sse"
	default:
		writeGatewayError(w, errDialectGemini, gatewayErrBadRequest("unsupported method "+method))
		return
	}

	var req protocol.GeminiRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeGatewayError(w, errDialectGemini, gatewayErrFromDecode(err))
		return
	}

	acct, err := s.pool.Acquire(r.Context(), accountpool.SelectOptions{})
	if err != nil {
		writeGatewayError(w, errDialectGemini, err)
		return
	}

	requestID := newRequestID()
	bc := s.buildContext(acct, requestID)
	internalReq := protocol.GeminiToInternal(&req, modelName, stream, bc)

	newFramer := func(sessionID, upstreamModel string) *streamframer.Framer {
		return streamframer.NewFramer(s.linePool, s.sigCache, s.toolSigCache, sessionID, upstreamModel)
	}

	if stream {
		s.streamGemini(w, r, acct, internalReq, modelName, newFramer, start)
		return
	}
	s.aggregateGemini(w, r, acct, internalReq, modelName, newFramer, start)
}

func (s *Server) streamGemini(w http.ResponseWriter, r *http.Request, acct *accountpool.Account, req *model.InternalRequest, requestedModel string, newFramer dispatcherFramerFactory, start time.Time) {
	responder, ok := sseresponder.New(w, sseresponder.DialectGemini)
	if !ok {
		writeGatewayError(w, errDialectGemini, gatewayErrStreamingUnsupported())
		return
	}
	defer responder.Close()

	renderer := &protocol.GeminiStreamRenderer{
		SessionID:     acct.SessionID,
		UpstreamModel: req.Model,
		ToolNames:     s.toolNames,
		PassSignature: req.PassSignature,
	}

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
	s.logRequest(acct, "gemini", requestedModel, req.Model, status, usage, start)
}

func (s *Server) aggregateGemini(w http.ResponseWriter, r *http.Request, acct *accountpool.Account, req *model.InternalRequest, requestedModel string, newFramer dispatcherFramerFactory, start time.Time) {
	result, err := s.dispatcher.Aggregate(r.Context(), acct, req, newFramer)
	s.dispatcher.Release(acct, err)
	if err != nil {
		writeGatewayError(w, errDialectGemini, err)
		return
	}

	usage := usageTotals{PromptTokens: result.Usage.PromptTokens, CompletionTokens: result.Usage.CompletionTokens}
	s.logRequest(acct, "gemini", requestedModel, req.Model, "ok", usage, start)

	resp := protocol.RenderGeminiNonStream(acct.SessionID, req.Model, s.toolNames, req.PassSignature, *result)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// handleGeminiModelList implements GET /v1beta/models, per §4.6.
func (s *Server) handleGeminiModelList(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.List(r.Context())
	models := make([]map[string]any, 0, len(names))
	for _, name := range names {
		models = append(models, geminiModelEntry(name))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"models": models})
}

// handleGeminiModelGet implements GET /v1beta/models/{model}, per §4.6.
func (s *Server) handleGeminiModelGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("model")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(geminiModelEntry(name))
}

func geminiModelEntry(name string) map[string]any {
	return map[string]any{
		"name":                       "models/" + name,
		"displayName":                name,
		"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
	}
}
