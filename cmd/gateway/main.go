// Command gateway starts the Antigravity API-compatibility gateway: it
// loads configuration, wires the credential pool, transport, dispatcher,
// protocol caches, and HTTP surface, then serves until a shutdown signal
// arrives. Grounded on the teacher's cmd/relay/main.go wiring order
// (config -> logging -> store -> crypto -> transport -> bus -> server).
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"time"

	"antigravity-gateway/internal/accountpool"
	"antigravity-gateway/internal/authn"
	"antigravity-gateway/internal/cache"
	"antigravity-gateway/internal/config"
	"antigravity-gateway/internal/dispatcher"
	"antigravity-gateway/internal/events"
	"antigravity-gateway/internal/modelcatalog"
	"antigravity-gateway/internal/pressure"
	"antigravity-gateway/internal/server"
	"antigravity-gateway/internal/store"
	"antigravity-gateway/internal/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the gateway's JSON config file")
	dataDir := flag.String("data-dir", "./data", "directory for persisted accounts and the request log")
	flag.Parse()

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("data dir create failed", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logHandler := events.NewLogHandler(level, 1000)
	slog.SetDefault(slog.New(logHandler))
	slog.Info("antigravity gateway starting", "version", version)

	reqLog, err := store.NewRequestLogStore(cfg.DBPath)
	if err != nil {
		slog.Error("request log init failed", "error", err)
		os.Exit(1)
	}
	defer reqLog.Close()
	slog.Info("request log ready", "path", cfg.DBPath)

	crypto := accountpool.NewCrypto(cfg.EncryptionKey)
	repo := store.NewAccountFileRepository(cfg.AccountFilePath)

	proxyCfg, err := transport.ParseProxyURL(cfg.Proxy)
	if err != nil {
		slog.Error("proxy config invalid", "error", err)
		os.Exit(1)
	}
	tm := transport.NewManager(proxyCfg, cfg.Other.Timeout)
	defer tm.Close()

	refresher := &accountpool.OAuthRefresher{
		TokenURL: cfg.OAuthTokenURL,
		ClientID: cfg.OAuthClientID,
		Client:   tm.Client(),
	}

	var projectIDFetcher accountpool.ProjectIDFetcher
	if cfg.Other.SkipProjectIDFetch {
		projectIDFetcher = &accountpool.StaticProjectIDFetcher{Generate: randomProjectID}
	} else {
		projectIDFetcher = &accountpool.HTTPProjectIDFetcher{URL: cfg.ProjectIDURL, Client: tm.Client()}
	}

	policy := accountpool.Policy{
		Strategy:     accountpool.Strategy(cfg.Rotation.Strategy),
		RequestCount: cfg.Rotation.RequestCount,
	}
	pool := accountpool.New(repo, refresher, projectIDFetcher, crypto, policy, cfg.Other.SkipProjectIDFetch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Init(ctx); err != nil {
		slog.Error("credential pool init failed", "error", err)
		os.Exit(1)
	}
	slog.Info("credential pool ready", "accounts", len(pool.List()))

	disp := &dispatcher.Dispatcher{
		Pool:        pool,
		Transport:   tm,
		APIURL:      cfg.API.URL,
		NoStreamURL: cfg.API.NoStreamURL,
		UserAgent:   cfg.API.UserAgent,
		RetryTimes:  cfg.Other.RetryTimes,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}

	pressureSrc := pressure.NewSource()
	sigCache := cache.NewSignatureCache(pressureSrc)
	toolSigCache := cache.NewSignatureCache(pressureSrc)
	toolNames := cache.NewToolNameCache(pressureSrc)
	modelListCache := cache.NewModelListCache(pressureSrc, cfg.Cache.ModelListTTL)
	linePool := pressure.NewPool[[]byte](pressureSrc, pressure.LineBufferCaps, func() []byte {
		return make([]byte, 0, 4096)
	})

	catalog := modelcatalog.New(pool, tm, cfg.API.ModelsURL, cfg.API.UserAgent, modelListCache)
	gate := authn.New(cfg.APIKey, cfg.AdminUsername, cfg.AdminPassword, cfg.JWTSecret)
	bus := events.NewBus(200)

	srv := server.New(server.Deps{
		Config:         cfg,
		Pool:           pool,
		Dispatcher:     disp,
		Catalog:        catalog,
		Gate:           gate,
		Signatures:     sigCache,
		ToolSignatures: toolSigCache,
		ToolNames:      toolNames,
		LinePool:       linePool,
		RequestLog:     reqLog,
		Bus:            bus,
		Transport:      tm,
	})

	if err := srv.Run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func randomProjectID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "antigravity-local"
	}
	return "antigravity-" + hex.EncodeToString(b)
}
