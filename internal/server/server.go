// Package server is the HTTP surface of spec §6: the three inbound dialect
// routes, the model-catalog routes, health, and a minimal admin stub.
// Grounded on the teacher's server/server.go ServeMux route registration,
// requestLogger middleware, and Run()'s signal-driven graceful shutdown,
// generalized from the teacher's Claude/Codex relay routes and SvelteKit
// admin UI (dropped, per SPEC_FULL.md's admin-surface note: a full browser
// admin UI is out of scope here) to this gateway's OpenAI/Anthropic/Gemini
// surface plus a minimal JSON admin stub.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"antigravity-gateway/internal/accountpool"
	"antigravity-gateway/internal/authn"
	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/config"
	"antigravity-gateway/internal/dispatcher"
	"antigravity-gateway/internal/events"
	"antigravity-gateway/internal/modelcatalog"
	"antigravity-gateway/internal/pressure"
	"antigravity-gateway/internal/protocol"
	"antigravity-gateway/internal/store"
	"antigravity-gateway/internal/transport"
)

// Server wires every component built in cmd/gateway/main.go to the public
// HTTP surface.
type Server struct {
	cfg          *config.Config
	pool         *accountpool.Pool
	dispatcher   *dispatcher.Dispatcher
	catalog      *modelcatalog.Catalog
	gate         *authn.Gate
	sigCache     *cache.SignatureCache
	toolSigCache *cache.SignatureCache
	toolNames    *cache.ToolNameCache
	linePool     *pressure.Pool[[]byte]
	reqLog       *store.RequestLogStore
	bus          *events.Bus
	transportMgr *transport.Manager

	httpServer *http.Server
	startTime  time.Time
}

// Deps bundles every collaborator the Server needs, assembled by
// cmd/gateway/main.go.
type Deps struct {
	Config         *config.Config
	Pool           *accountpool.Pool
	Dispatcher     *dispatcher.Dispatcher
	Catalog        *modelcatalog.Catalog
	Gate           *authn.Gate
	Signatures     *cache.SignatureCache
	ToolSignatures *cache.SignatureCache
	ToolNames      *cache.ToolNameCache
	LinePool       *pressure.Pool[[]byte]
	RequestLog     *store.RequestLogStore
	Bus            *events.Bus
	Transport      *transport.Manager
}

func New(d Deps) *Server {
	s := &Server{
		cfg:          d.Config,
		pool:         d.Pool,
		dispatcher:   d.Dispatcher,
		catalog:      d.Catalog,
		gate:         d.Gate,
		sigCache:     d.Signatures,
		toolSigCache: d.ToolSignatures,
		toolNames:    d.ToolNames,
		linePool:     d.LinePool,
		reqLog:       d.RequestLog,
		bus:          d.Bus,
		transportMgr: d.Transport,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port),
		Handler:        requestLogger(mux),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   d.Config.Other.Timeout + 30*time.Second,
		MaxHeaderBytes: int(d.Config.Server.MaxRequestSize),
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	public := s.gate.RequireAPIKey

	mux.Handle("POST /v1/chat/completions", public(http.HandlerFunc(s.handleOpenAIChat)))
	mux.Handle("GET /v1/models", public(http.HandlerFunc(s.handleOpenAIModels)))

	mux.Handle("POST /v1/messages", public(http.HandlerFunc(s.handleAnthropicMessages)))

	mux.Handle("POST /v1beta/models/{model}", public(http.HandlerFunc(s.handleGeminiDispatch)))
	mux.Handle("GET /v1beta/models", public(http.HandlerFunc(s.handleGeminiModelList)))
	mux.Handle("GET /v1beta/models/{model}", public(http.HandlerFunc(s.handleGeminiModelGet)))

	mux.HandleFunc("POST /admin/login", s.handleAdminLogin)
	mux.Handle("GET /admin/accounts", s.gate.RequireAdmin(http.HandlerFunc(s.handleAdminListAccounts)))
	mux.Handle("POST /admin/accounts", s.gate.RequireAdmin(http.HandlerFunc(s.handleAdminAddAccount)))
	mux.Handle("DELETE /admin/accounts/{id}", s.gate.RequireAdmin(http.HandlerFunc(s.handleAdminDeleteAccount)))

	mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%d}`, int64(time.Since(s.startTime).Seconds()))
}

// Run starts the server and blocks until a shutdown signal arrives or the
// listener fails, per the teacher's signal-driven graceful shutdown.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.transportMgr.RunCleanup(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func newRequestID() string { return uuid.NewString() }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// buildContext constructs the per-call protocol.BuildContext once an
// account (and therefore its process-scoped SessionID) has been acquired;
// the Protocol Translator keys its signature/tool-name caches on
// (sessionId, model), so acquisition must happen before translation (§4.1,
// §4.2).
func (s *Server) buildContext(acct *accountpool.Account, requestID string) protocol.BuildContext {
	return protocol.BuildContext{
		SessionID: acct.SessionID,
		Project:   acct.ProjectID,
		RequestID: requestID,
		Defaults: protocol.Defaults{
			Temperature:    s.cfg.Defaults.Temperature,
			TopP:           s.cfg.Defaults.TopP,
			TopK:           s.cfg.Defaults.TopK,
			MaxTokens:      s.cfg.Defaults.MaxTokens,
			ThinkingBudget: s.cfg.Defaults.ThinkingBudget,
		},
		Signatures:                  s.sigCache,
		ToolSignatures:              s.toolSigCache,
		ToolNames:                   s.toolNames,
		ConfiguredSystemInstruction: s.cfg.SystemInstruction,
		UseContextSystemPrompt:      s.cfg.Other.UseContextSystemPrompt,
		PassSignatureToClient:       s.cfg.Other.PassSignatureToClient,
	}
}

type usageTotals struct {
	PromptTokens     int
	CompletionTokens int
}

// logRequest records one completed call to the request-history log,
// swallowing errors: the log is a best-effort recent-activity window
// (§7), never a reason to fail the client's call.
func (s *Server) logRequest(acct *accountpool.Account, dialect, requestedModel, upstreamModel, status string, usage usageTotals, start time.Time) {
	if s.reqLog == nil {
		return
	}
	entry := store.RequestLogEntry{
		SessionID:        acct.SessionID,
		AccountID:        acct.ID,
		Dialect:          dialect,
		RequestedModel:   requestedModel,
		UpstreamModel:    upstreamModel,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Status:           status,
		DurationMs:       time.Since(start).Milliseconds(),
		CreatedAt:        start,
	}
	if err := s.reqLog.Insert(context.Background(), entry); err != nil {
		slog.Warn("server: request log insert failed", "error", err)
	}
}

func (s *Server) publish(typ events.EventType, accountID, message string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Type: typ, AccountID: accountID, Message: message})
}
